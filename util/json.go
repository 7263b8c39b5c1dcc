package util

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// JsonString json text of v; map keys come out sorted, so equal maps give equal text
func JsonString(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(err, "marshal %T", v)
	}
	return string(b), nil
}

// ParseJson decode one json value into v, anything but whitespace after it is an error
func ParseJson(jsonStr string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(err, "parse json into %T", v)
	}
	if dec.More() {
		return errors.Errorf("unexpected data after json value at offset:%v", dec.InputOffset())
	}
	return nil
}

// Digest md5 hex of the json text of v
func Digest(v interface{}) (string, error) {
	str, err := JsonString(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(str))
	return hex.EncodeToString(sum[:]), nil
}

// JobKey identity of a job instance, the digest of its params
func JobKey(params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Digest(params)
}
