package database

import (
	"database/sql"
	"fmt"
	"reflect"
)

// taggedFields maps `db:` tag names to field indexes of struct type t.
func taggedFields(t reflect.Type) map[string]int {
	out := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		out[tag] = i
	}
	return out
}

// insertColumns extracts column names and values from a tagged struct in
// field order. A zero "id" is left out so the database assigns it.
func insertColumns(record any) (cols []string, vals []any, err error) {
	v := reflect.Indirect(reflect.ValueOf(record))
	if v.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("insert: record must be a struct, got %s", v.Kind())
	}
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		if tag == "id" && v.Field(i).IsZero() {
			continue
		}
		cols = append(cols, tag)
		vals = append(vals, v.Field(i).Interface())
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("insert: %s has no db-tagged fields", t)
	}
	return cols, vals, nil
}

// scanRows appends one struct per row to the slice dest points at.
// Columns without a matching `db:` tag are discarded.
func scanRows(rows *sql.Rows, dest any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("select: dest must be a pointer to a slice")
	}
	slice := dv.Elem()
	elemType := slice.Type().Elem()
	isPtr := elemType.Kind() == reflect.Pointer
	if isPtr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		return fmt.Errorf("select: slice element must be a struct, got %s", elemType.Kind())
	}

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	fields := taggedFields(elemType)

	for rows.Next() {
		elem := reflect.New(elemType).Elem()
		ptrs := make([]any, len(cols))
		for i, c := range cols {
			if idx, ok := fields[c]; ok {
				ptrs[i] = elem.Field(idx).Addr().Interface()
			} else {
				ptrs[i] = new(any)
			}
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if isPtr {
			slice.Set(reflect.Append(slice, elem.Addr()))
		} else {
			slice.Set(reflect.Append(slice, elem))
		}
	}
	return rows.Err()
}
