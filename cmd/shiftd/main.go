package main

import (
	"fmt"

	"github.com/shiftex/shift/shiftd"
)

func main() {
	err := shiftd.Run()
	if err != nil {
		fmt.Println(err)
	}
}
