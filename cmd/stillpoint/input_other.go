//go:build !linux

package main

import (
	"errors"
	"os"
)

func readInputDevices(_ <-chan struct{}, _ []*os.File, _ chan<- inputEvent, readErr chan<- error) {
	readErr <- errors.New("media key input is only supported on linux")
}
