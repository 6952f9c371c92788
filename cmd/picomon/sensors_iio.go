package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// iioChannel reads a Linux IIO voltage channel through sysfs
// (<device>/in_voltage<N>_raw). Each read triggers one conversion.
type iioChannel struct {
	path string
}

func openIIOChannel(device string, channel int) (*iioChannel, error) {
	path := filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", channel))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("iio channel %d: %w", channel, err)
	}
	return &iioChannel{path: path}, nil
}

func (c *iioChannel) ReadRaw() (uint16, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", c.path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", c.path, err)
	}
	return uint16(v), nil
}
