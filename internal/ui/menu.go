package ui

import (
	"fmt"
)

type MenuOption struct {
	Title   string
	Handler func()
}

// ShowMenu displays the options until the user picks one without a handler.
func ShowMenu(menuOptions []MenuOption) {
	for {
		fmt.Println("\033[34m===================\033[0m")
		for i, opt := range menuOptions {
			fmt.Printf("\033[34m%d. %s\033[0m\n", i+1, opt.Title)
		}

		choice, err := ReadInt("Please enter your choice: ", 1, len(menuOptions))
		if err != nil {
			PrintError(err.Error())
			continue
		}

		opt := menuOptions[choice-1]
		if opt.Handler == nil {
			fmt.Println("Exiting...")
			return
		}
		opt.Handler()
	}
}
