package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("Hello, Debugger!")

	if len(os.Args) > 1 {
		fmt.Println("Arguments:", os.Args[1:])
	}

	result := add(5, 7)
	fmt.Printf("5 + 7 = %d\n", result)
}

func add(a, b int) int {
	sum := a + b
	return sum
}
