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
	"io"
	"io/ioutil"
	"os"
)

// file is an file abstraction.
//
// It can be *os.File or an in-memory file.
type file interface {
	io.Reader
	io.Writer
	io.Closer

	// Sync commits the current contents of the file to stable storage.
	Sync() error
}

// fileSystem is the file system abstraction.
//
// Contains functions which can be used to interact with the file system.
// Mainly a 1:1 mapping over the File interface: https://golang.org/pkg/os/#File
type fileSystem interface {
	// create creates or truncates the file.
	create(name string) (file, error)

	// open opens the file for reading.
	// returns error if the file is not found.
	open(name string) (file, error)

	// remove removes the file.
	// returns error if the file isn't found.
	remove(name string) error

	// rename renames the file from oldname to newname.
	// return error if the file with oldname is not found.
	rename(oldname, newname string) error

	// mkdirAll creates a dir with all the parents.
	//
	// returns nil if the operation was success or the dir already exists.
	mkdirAll(dir string, perm os.FileMode) error

	// list returns the names of the regular files in dir.
	list(dir string) ([]string, error)

	// lock creates a lock file in the directory.
	//
	// this is used to obtain exclusive access to the directory.
	lock(name string) (file, error)
}

// defaultFS is a fileSystem implementation of the operating system.
var defaultFS fileSystem = defaultFileSystem{}

type defaultFileSystem struct{}

// create creates or truncates the file.
func (dfs defaultFileSystem) create(name string) (file, error) {
	return os.Create(name)
}

// open opens the file for reading.
// returns error if the file is not found.
func (dfs defaultFileSystem) open(name string) (file, error) {
	return os.Open(name)
}

// remove removes the file.
// returns error if the file isn't found.
func (dfs defaultFileSystem) remove(name string) error {
	return os.Remove(name)
}

// rename renames the file from oldname to newname.
// return error if the file with oldname is not found.
func (dfs defaultFileSystem) rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

// mkdirAll creates a dir with all the parents.
//
// returns nil if the operation was success or the dir already exists.
func (dfs defaultFileSystem) mkdirAll(dir string, perm os.FileMode) error {
	return os.MkdirAll(dir, perm)
}

func (dfs defaultFileSystem) list(dir string) ([]string, error) {
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Mode().IsRegular() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

// lock creates a lock file in the directory.
//
// the file stays open until the storage is closed.
func (dfs defaultFileSystem) lock(name string) (file, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
}
