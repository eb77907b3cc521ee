/**
 * Copyright 2021 The IcecaneDB Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	mapFileSuffix  = ".map"
	tempFileSuffix = ".tmp"
	lockFileName   = "LOCK"
)

type fileType int

const (
	lockFileType fileType = iota
	mapFileType
	tempFileType
)

// getFileName returns the name of the file stored on the disk for a particular type and map.
func getFileName(dirname string, fileType fileType, mapName string) string {
	switch fileType {
	case lockFileType:
		return filepath.Join(dirname, lockFileName)
	case mapFileType:
		return filepath.Join(dirname, mapName+mapFileSuffix)
	case tempFileType:
		return filepath.Join(dirname, mapName+mapFileSuffix+tempFileSuffix)
	}

	panic("invalid file type")
}

// parseMapFileName returns the map name stored in the file and whether the name is a map file.
func parseMapFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, mapFileSuffix) {
		return "", false
	}
	mapName := strings.TrimSuffix(name, mapFileSuffix)
	return mapName, mapName != ""
}

// validateMapName checks that the map name can be used as a file name.
func validateMapName(name string) error {
	if name == "" {
		return errors.New("empty map name")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid map name %q", name)
	}
	return nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(errors.Cause(err))
}
