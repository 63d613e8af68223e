package main

import "github.com/goplus/hwlocsys/cmd/hwlocsys/internal"

func main() {
	internal.Execute()
}
