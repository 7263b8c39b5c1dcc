package file

import (
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

type LocalFileSystem struct {
}

func (fs *LocalFileSystem) Exists(fileName string) (bool, error) {
	_, err := os.Stat(fileName)
	if err != nil && os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (fs *LocalFileSystem) Open(fileName string) (io.ReadCloser, error) {
	return os.Open(fileName)
}

//Create truncate or create fileName, creating missing parent directories
func (fs *LocalFileSystem) Create(fileName string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return nil, err
	}
	return os.Create(fileName)
}

//FTPFileSystem a FileStorage on an ftp server, one connection per opened file
type FTPFileSystem struct {
	Host        string
	Port        int
	User        string
	Password    string
	ConnTimeout time.Duration
}

func (fs *FTPFileSystem) connect() (*ftp.ServerConn, error) {
	c, err := ftp.DialTimeout(fmt.Sprintf("%s:%d", fs.Host, fs.Port), fs.ConnTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connect ftp %v:%v", fs.Host, fs.Port)
	}
	if err = c.Login(fs.User, fs.Password); err != nil {
		c.Quit()
		return nil, errors.Wrapf(err, "login ftp %v:%v", fs.Host, fs.Port)
	}
	return c, nil
}

func (fs *FTPFileSystem) Exists(fileName string) (bool, error) {
	c, err := fs.connect()
	if err != nil {
		return false, err
	}
	defer c.Quit()

	_, err = c.FileSize(fileName)
	if err == nil {
		return true, nil
	}
	if e, ok := err.(*textproto.Error); ok && e.Code == ftp.StatusFileUnavailable {
		return false, nil
	}
	return false, err
}

//Open the returned reader owns the connection and quits it on Close
func (fs *FTPFileSystem) Open(fileName string) (io.ReadCloser, error) {
	c, err := fs.connect()
	if err != nil {
		return nil, err
	}
	r, err := c.Retr(fileName)
	if err != nil {
		c.Quit()
		return nil, err
	}
	return &ftpReader{conn: c, resp: r}, nil
}

//Create upload through a pipe; Close waits for the server to acknowledge the transfer
func (fs *FTPFileSystem) Create(fileName string) (io.WriteCloser, error) {
	c, err := fs.connect()
	if err != nil {
		return nil, err
	}
	r, w := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := c.Stor(fileName, r)
		//unblock the writer if the server gave up early
		r.CloseWithError(err)
		done <- err
	}()
	return &ftpWriter{conn: c, pipe: w, done: done}, nil
}

type ftpReader struct {
	conn *ftp.ServerConn
	resp *ftp.Response
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if er := r.conn.Quit(); err == nil {
		err = er
	}
	return err
}

type ftpWriter struct {
	conn *ftp.ServerConn
	pipe *io.PipeWriter
	done chan error
}

func (w *ftpWriter) Write(p []byte) (int, error) {
	return w.pipe.Write(p)
}

func (w *ftpWriter) Close() error {
	err := w.pipe.Close()
	if er := <-w.done; er != nil {
		err = er
	}
	if er := w.conn.Quit(); err == nil {
		err = er
	}
	return err
}
