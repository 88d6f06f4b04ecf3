//go:build wasip1

// Guest that exercises the call protocol. Each argument is a call of the
// form name:jsonargs, e.g. strtoupper:["hi"].
// Build with: GOOS=wasip1 GOARCH=wasm go build -o guest.wasm guest.go
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func main() {
	stdin := bufio.NewScanner(os.Stdin)
	for _, arg := range os.Args[1:] {
		name, rawArgs, _ := strings.Cut(arg, ":")
		var args []any
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				fmt.Println("bad args:", err)
				continue
			}
		}
		frame, _ := json.Marshal(map[string]any{"fn": name, "args": args})
		fmt.Fprintf(os.Stderr, "\x00SANDPROXY:%s\x00", frame)

		if !stdin.Scan() {
			return
		}
		var resp struct {
			Data  any    `json:"data"`
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		json.Unmarshal(stdin.Bytes(), &resp)
		if resp.Error != "" {
			fmt.Printf("%s: error (%s): %s\n", name, resp.Kind, resp.Error)
			continue
		}
		fmt.Printf("%s: %v\n", name, resp.Data)
	}
}
