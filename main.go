package main

import (
	"fmt"

	"github.com/titan-mmo/titan/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
