package file

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chararch/pagebatch"
	"github.com/pkg/errors"
)

//FilePath a file name pattern resolved against a step execution.
//Placeholders: {param} looks up job params, then step context, then job context; {job:key} and {step:key}
//read only the named context; an optional format follows a comma, e.g. {date,yyyyMMdd} or {seq,#4}.
type FilePath struct {
	NamePattern string
}

var paramRegexp = regexp.MustCompile(`\{[^}]+\}`)

//Format the real file name for execution
func (f *FilePath) Format(execution *pagebatch.StepExecution) (string, error) {
	var firstErr error
	fail := func(err error) string {
		if firstErr == nil {
			firstErr = err
		}
		return ""
	}
	factPath := paramRegexp.ReplaceAllStringFunc(f.NamePattern, func(s string) string {
		s = s[1 : len(s)-1]
		category, param, format := "", s, ""
		if idx := strings.Index(s, ":"); idx > 0 {
			category, param = s[0:idx], s[idx+1:]
		}
		if idx := strings.Index(param, ","); idx > 0 {
			param, format = param[0:idx], param[idx+1:]
		}
		jobExecution := execution.JobExecution
		var paramVal interface{}
		switch category {
		case "":
			if v, ok := jobExecution.JobParams[param]; ok {
				paramVal = v
			} else if execution.StepContext.Exists(param) {
				paramVal = execution.StepContext.Get(param)
			} else if jobExecution.JobContext.Exists(param) {
				paramVal = jobExecution.JobContext.Get(param)
			} else {
				return fail(errors.Errorf("can not find param:%v", param))
			}
		case "job":
			if !jobExecution.JobContext.Exists(param) {
				return fail(errors.Errorf("can not find param:%v in JobExecution", param))
			}
			paramVal = jobExecution.JobContext.Get(param)
		case "step":
			if !execution.StepContext.Exists(param) {
				return fail(errors.Errorf("can not find param:%v in StepExecution", param))
			}
			paramVal = execution.StepContext.Get(param)
		default:
			return fail(errors.Errorf("unsupported param category:%v", category))
		}
		str, err := formatParam(paramVal, format)
		if err != nil {
			return fail(err)
		}
		return str
	})
	if firstErr != nil {
		return "", errors.WithMessagef(firstErr, "format file path:%v", f.NamePattern)
	}
	return factPath, nil
}

var dateFmtRegexp = regexp.MustCompile("yyyy|MM|dd|HH|mm|SS")

var dateFmtReplacer = strings.NewReplacer("yyyy", "2006", "MM", "01", "dd", "02", "HH", "15", "mm", "04", "SS", "05")

func formatParam(val interface{}, format string) (string, error) {
	if val == nil {
		return "", nil
	}
	if format == "" {
		return fmt.Sprintf("%v", val), nil
	}
	if dateFmtRegexp.MatchString(format) {
		dt, err := parseDate(val)
		if err != nil {
			return "", err
		}
		return dt.Format(dateFmtReplacer.Replace(format)), nil
	}
	if idx := strings.Index(format, "#"); idx >= 0 {
		//#4 and 4# both mean zero padded to 4 digits
		digits := strings.Trim(format, "#")
		width, err := strconv.Atoi(digits)
		if err != nil || width <= 0 {
			return "", errors.Errorf("unsupported format:%v", format)
		}
		n, err := parseInteger(val)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%0*d", width, n), nil
	}
	return "", errors.Errorf("unsupported format:%v", format)
}

func parseDate(val interface{}) (time.Time, error) {
	if tm, ok := val.(time.Time); ok {
		return tm, nil
	}
	if strVal, ok := val.(string); ok {
		switch len(strVal) {
		case 8:
			return time.ParseInLocation("20060102", strVal, time.Local)
		case 10:
			return time.ParseInLocation("2006-01-02", strVal, time.Local)
		case 19:
			return time.ParseInLocation("2006-01-02 15:04:05", strVal, time.Local)
		}
	}
	return time.Time{}, errors.Errorf("can not parse to date:%v", val)
}

func parseInteger(val interface{}) (int64, error) {
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float64:
		//json numbers
		return int64(rv.Float()), nil
	case reflect.String:
		return strconv.ParseInt(rv.String(), 10, 64)
	}
	return -1, errors.Errorf("can not parse to integer:%v", val)
}
