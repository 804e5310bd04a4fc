package main

import (
	"log"

	"yashubustudio/jsonmanager/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("jsonmanager: %v", err)
	}
}
