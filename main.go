package main

import (
	"github.com/ColonelBlimp/whistledetector/cmd"
	"github.com/ColonelBlimp/whistledetector/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
