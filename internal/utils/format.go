package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/iancoleman/orderedmap"
	"github.com/jedib0t/go-pretty/v6/table"
)

/**
 * Convert a struct into an ordered map following its json field order
 * @param {interface{}} v - struct value with json tags
 * @returns {*orderedmap.OrderedMap} ordered map of the json fields
 * @returns {error} marshal/unmarshal error
 */
func StructToOrderedMap(v interface{}) (*orderedmap.OrderedMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	om := orderedmap.New()
	if err := json.Unmarshal(data, om); err != nil {
		return nil, err
	}
	return om, nil
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if val == "" {
			return "-"
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.1f", val)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatCell(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// WriteFormat 以表格形式输出，列顺序取第一行的key顺序
func WriteFormat(w io.Writer, dataList []*orderedmap.OrderedMap) {
	if len(dataList) == 0 {
		return
	}
	keys := dataList[0].Keys()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := table.Row{}
	for _, k := range keys {
		header = append(header, strings.ToUpper(k))
	}
	t.AppendHeader(header)

	for _, row := range dataList {
		r := table.Row{}
		for _, k := range keys {
			v, _ := row.Get(k)
			r = append(r, formatCell(v))
		}
		t.AppendRow(r)
	}
	t.Render()
}

func PrintFormat(dataList []*orderedmap.OrderedMap) {
	WriteFormat(os.Stdout, dataList)
}
