package file

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

//field tags understood by TagAggregator and TagHeader:
//	order   column position, required
//	header  column title, defaults to the field name
//	format  fmt verb for numbers and strings, time layout for time.Time, true/false words for bool ("Y", "1", "YES"...)
//	default text written for a zero value
type column struct {
	index  []int
	order  int
	header string
	format string
	def    string
	typ    reflect.Type
}

type lineFormat struct {
	structType reflect.Type
	columns    []column
}

var timeType = reflect.TypeOf(time.Time{})

var boolWords = map[string][2]string{
	"Y":    {"Y", "N"},
	"y":    {"y", "n"},
	"Yes":  {"Yes", "No"},
	"YES":  {"YES", "NO"},
	"1":    {"1", "0"},
	"T":    {"T", "F"},
	"True": {"True", "False"},
	"TRUE": {"TRUE", "FALSE"},
}

func structTypeOf(prototype interface{}) (reflect.Type, error) {
	tp := reflect.TypeOf(prototype)
	for tp != nil && tp.Kind() == reflect.Ptr {
		tp = tp.Elem()
	}
	if tp == nil || tp.Kind() != reflect.Struct {
		return nil, errors.Errorf("record prototype must be a struct, got:%T", prototype)
	}
	return tp, nil
}

func newLineFormat(prototype interface{}) (*lineFormat, error) {
	tp, err := structTypeOf(prototype)
	if err != nil {
		return nil, err
	}
	lf := &lineFormat{structType: tp}
	if err = lf.collect(tp, nil); err != nil {
		return nil, err
	}
	if len(lf.columns) == 0 {
		return nil, errors.Errorf("no field of %v has an order tag", tp)
	}
	sort.SliceStable(lf.columns, func(i, j int) bool { return lf.columns[i].order < lf.columns[j].order })
	for i := 1; i < len(lf.columns); i++ {
		if lf.columns[i].order == lf.columns[i-1].order {
			return nil, errors.Errorf("duplicate order:%v in %v", lf.columns[i].order, tp)
		}
	}
	return lf, nil
}

func (lf *lineFormat) collect(tp reflect.Type, parent []int) error {
	for i := 0; i < tp.NumField(); i++ {
		tf := tp.Field(i)
		index := append(append([]int{}, parent...), i)
		if ord := tf.Tag.Get("order"); ord != "" {
			idx, err := strconv.Atoi(ord)
			if err != nil || idx < 0 {
				return errors.Errorf("invalid order tag:%v on field:%v", ord, tf.Name)
			}
			header := tf.Tag.Get("header")
			if header == "" {
				header = tf.Name
			}
			lf.columns = append(lf.columns, column{
				index:  index,
				order:  idx,
				header: header,
				format: tf.Tag.Get("format"),
				def:    tf.Tag.Get("default"),
				typ:    tf.Type,
			})
			continue
		}
		ft := tf.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != timeType {
			if err := lf.collect(ft, index); err != nil {
				return err
			}
		}
	}
	return nil
}

func (lf *lineFormat) headers() []string {
	headers := make([]string, len(lf.columns))
	for i, c := range lf.columns {
		headers[i] = c.header
	}
	return headers
}

func (lf *lineFormat) fields(item interface{}) ([]string, error) {
	rv := reflect.ValueOf(item)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, errors.Errorf("can not format nil record of type:%v", lf.structType)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != lf.structType {
		return nil, errors.Errorf("record type mismatch, expect:%v got:%T", lf.structType, item)
	}
	fields := make([]string, len(lf.columns))
	for i, c := range lf.columns {
		vf, ok := fieldByIndex(rv, c.index)
		if !ok {
			fields[i] = c.def
			continue
		}
		val, err := c.formatVal(vf)
		if err != nil {
			return nil, errors.WithMessagef(err, "format field:%v", c.header)
		}
		fields[i] = val
	}
	return fields, nil
}

//fieldByIndex like reflect.Value.FieldByIndex, but reports false when it meets a nil pointer on the way
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 {
			for v.Kind() == reflect.Ptr {
				if v.IsNil() {
					return reflect.Value{}, false
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v, true
}

func (c column) formatVal(vf reflect.Value) (string, error) {
	if vf.IsZero() && c.def != "" {
		return c.def, nil
	}
	for vf.Kind() == reflect.Ptr {
		if vf.IsNil() {
			return c.def, nil
		}
		vf = vf.Elem()
	}
	switch vf.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Float32, reflect.Float64, reflect.String:
		if c.format != "" {
			return fmt.Sprintf(c.format, vf.Interface()), nil
		}
		return fmt.Sprintf("%v", vf.Interface()), nil
	case reflect.Bool:
		words, ok := boolWords[c.format]
		if !ok {
			words = [2]string{"true", "false"}
		}
		if vf.Bool() {
			return words[0], nil
		}
		return words[1], nil
	case reflect.Struct:
		if vf.Type() == timeType {
			layout := c.format
			if layout == "" {
				layout = "2006-01-02"
			}
			return vf.Interface().(time.Time).Format(layout), nil
		}
	}
	return "", errors.Errorf("can not format type:%v", vf.Type())
}

//TagAggregator a LineAggregator joining the order-tagged fields of prototype's struct type with delimiter
func TagAggregator(prototype interface{}, delimiter string) (LineAggregator, error) {
	lf, err := newLineFormat(prototype)
	if err != nil {
		return nil, err
	}
	return func(item interface{}) (string, error) {
		fields, err := lf.fields(item)
		if err != nil {
			return "", err
		}
		return strings.Join(fields, delimiter), nil
	}, nil
}

//TagHeader the header line of prototype's struct type, columns in order-tag order
func TagHeader(prototype interface{}, delimiter string) (string, error) {
	lf, err := newLineFormat(prototype)
	if err != nil {
		return "", err
	}
	return strings.Join(lf.headers(), delimiter), nil
}
