// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package action

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/fdtd/pkg/errors"
)

// TransferFile is one source/destination pair of a transfer.
type TransferFile struct {
	Src  string `json:"fileSrc"`
	Dest string `json:"fileDest"`
}

// String renders the pair in the FDT file-list format. The " / "
// separator is parsed by the FDT client and must not change.
func (f TransferFile) String() string {
	return f.Src + " / " + f.Dest
}

// FileListPath returns where the file list of transfer id is written.
func FileListPath(logDir, id string) string {
	if logDir == "" {
		logDir = os.TempDir()
	}
	return filepath.Join(logDir, "fileLists", "fdt-fileList-"+id)
}

// WriteFileList writes one line per file to path, creating the parent
// directory if needed.
func WriteFileList(path string, files []TransferFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating file list directory %s", filepath.Dir(path))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating file list %s", path)
	}

	w := bufio.NewWriter(f)
	for _, tf := range files {
		if _, err := fmt.Fprintf(w, "%s\n", tf); err != nil {
			f.Close()
			return errors.Wrapf(err, "writing file list %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing file list %s", path)
	}
	return f.Close()
}
