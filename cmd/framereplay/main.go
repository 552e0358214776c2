package main

import (
	"framereplay"
	"log"
)

func main() {
	if err := framereplay.Run(); err != nil {
		log.Fatal(err)
	}
}
