package main

import (
	"github.com/samuelfneumann/gocuriosity/examples"
)

func main() {
	examples.Curiosity()
}
