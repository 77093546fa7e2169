// Package sysfs provides single-attribute sysfs read/write helpers.
// Platform controls on this board are exposed as ASCII "0"/"1" attribute
// files by the FPGA and thermal kernel drivers.
package sysfs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadString reads a sysfs attribute and returns its trimmed contents.
func ReadString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read sysfs attribute %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadInt reads a sysfs attribute and parses it as a base-10 integer.
func ReadInt(path string) (int, error) {
	s, err := ReadString(path)
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("cannot parse sysfs attribute %s as int: %w", path, err)
	}
	return val, nil
}

// ReadBool reads a sysfs attribute holding an ASCII "0"/"1" value.
// A read or parse failure reports false along with the error.
func ReadBool(path string) (bool, error) {
	val, err := ReadInt(path)
	if err != nil {
		return false, err
	}
	return val == 1, nil
}

// WriteString writes a value to a sysfs attribute.
func WriteString(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("cannot write sysfs attribute %s: %w", path, err)
	}
	return nil
}

// WriteInt writes an integer to a sysfs attribute as base-10 ASCII.
func WriteInt(path string, value int) error {
	return WriteString(path, strconv.Itoa(value))
}

// WriteBool writes "1" or "0" to a sysfs attribute.
func WriteBool(path string, value bool) error {
	v := 0
	if value {
		v = 1
	}
	return WriteInt(path, v)
}
