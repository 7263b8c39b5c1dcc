package file

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/chararch/pagebatch"
	"github.com/pkg/errors"
)

const (
	OKFlag = "OK"
	MD5    = "MD5"
	SHA1   = "SHA1"
	SHA256 = "SHA256"
	SHA512 = "SHA512"
)

//Checksumer writes and verifies the companion file proving a data file is complete
type Checksumer interface {
	Checksum(fs FileStorage, fileName string) error
	Verify(fs FileStorage, fileName string) (bool, error)
}

//GetChecksumer checksumer of an algorithm name, nil when unknown
func GetChecksumer(alg string) Checksumer {
	switch strings.ToUpper(alg) {
	case OKFlag:
		return &OKFlagChecksumer{}
	case MD5:
		return &digestChecksumer{alg: MD5, newHash: md5.New}
	case SHA1:
		return &digestChecksumer{alg: SHA1, newHash: sha1.New}
	case SHA256:
		return &digestChecksumer{alg: SHA256, newHash: sha256.New}
	case SHA512:
		return &digestChecksumer{alg: SHA512, newHash: sha512.New}
	}
	return nil
}

//OKFlagChecksumer an empty '<file>.ok' marks the data file as complete
type OKFlagChecksumer struct {
}

func (ch *OKFlagChecksumer) Verify(fs FileStorage, fileName string) (bool, error) {
	ok, err := fs.Exists(fileName)
	if err != nil || !ok {
		return false, err
	}
	return fs.Exists(fileName + ".ok")
}

func (ch *OKFlagChecksumer) Checksum(fs FileStorage, fileName string) error {
	w, err := fs.Create(fileName + ".ok")
	if err != nil {
		return err
	}
	return w.Close()
}

//digestChecksumer '<file>.<alg>' holds the hex digest of the data file
type digestChecksumer struct {
	alg     string
	newHash func() hash.Hash
}

func (ch *digestChecksumer) checkFile(fileName string) string {
	return fmt.Sprintf("%s.%s", fileName, strings.ToLower(ch.alg))
}

func (ch *digestChecksumer) digest(fs FileStorage, fileName string) (string, error) {
	reader, err := fs.Open(fileName)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	h := ch.newHash()
	if _, err = io.Copy(h, reader); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (ch *digestChecksumer) Verify(fs FileStorage, fileName string) (bool, error) {
	checkFile := ch.checkFile(fileName)
	ok, err := fs.Exists(checkFile)
	if err != nil || !ok {
		return false, err
	}
	checkReader, err := fs.Open(checkFile)
	if err != nil {
		return false, err
	}
	defer checkReader.Close()
	buf, err := io.ReadAll(checkReader)
	if err != nil {
		return false, err
	}
	fileHash, err := ch.digest(fs, fileName)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(buf)) == fileHash, nil
}

func (ch *digestChecksumer) Checksum(fs FileStorage, fileName string) error {
	fileHash, err := ch.digest(fs, fileName)
	if err != nil {
		return err
	}
	w, err := fs.Create(ch.checkFile(fileName))
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(fileHash))
	if er := w.Close(); err == nil {
		err = er
	}
	return err
}

//ChecksumTask a step task writing the check file of the file named by pattern
func ChecksumTask(fs FileStorage, pattern string, alg string) pagebatch.Task {
	return func(ctx context.Context, execution *pagebatch.StepExecution) pagebatch.BatchError {
		checksumer := GetChecksumer(alg)
		if checksumer == nil {
			return pagebatch.NewBatchError(pagebatch.ErrCodeGeneral, "unsupported checksum algorithm:%v", alg)
		}
		fileName, err := (&FilePath{pattern}).Format(execution)
		if err != nil {
			return pagebatch.WrapError(pagebatch.ErrCodeGeneral, err, "get real file path:%v", pattern)
		}
		if err = checksumer.Checksum(fs, fileName); err != nil {
			return pagebatch.WrapError(pagebatch.ErrCodeGeneral, errors.WithMessage(err, alg), "write checksum of file:%v", fileName)
		}
		return nil
	}
}
