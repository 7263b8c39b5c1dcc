package file

import (
	"fmt"
	"io"
)

const (
	LocalFileStorage = "LocalFile"
	FTPFileStorage   = "FTP"
)

//FileStorage where batch files are kept; content is always UTF-8
type FileStorage interface {
	Exists(fileName string) (ok bool, err error)
	Open(fileName string) (reader io.ReadCloser, err error)
	Create(fileName string) (writer io.WriteCloser, err error)
}

//FileMove a file copied from one storage to another, both names are FilePath patterns
type FileMove struct {
	FromFileName  string
	FromFileStore FileStorage
	ToFileName    string
	ToFileStore   FileStorage
}

func (fm FileMove) String() string {
	return fmt.Sprintf("%v://%v -> %v://%v", storageName(fm.FromFileStore), fm.FromFileName, storageName(fm.ToFileStore), fm.ToFileName)
}

func storageName(fs FileStorage) string {
	switch fs.(type) {
	case *LocalFileSystem:
		return LocalFileStorage
	case *FTPFileSystem:
		return FTPFileStorage
	}
	return fmt.Sprintf("%T", fs)
}
