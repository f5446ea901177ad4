package main

import (
	"fmt"

	"github.com/fatih/color"
)

// Banner printed above the root command's usage.
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//                                    _
	//  _ __ __      __ ___  __ _  _ __  | |_
	// | '_ \\ \ /\ / // __|/ _` || '_ \ | __|
	// | |_) |\ V  V /| (__| (_| || |_) || |_
	// | .__/  \_/\_/  \___|\__,_|| .__/  \__|
	// |_|                        |_|

	// Line 1
	r.Printf("       ")
	y.Printf("        ")
	b.Printf("     ")
	r.Printf("      ")
	y.Printf("      ")
	b.Println("  _   ")

	// Line 2
	r.Printf(" _ __  ")
	y.Printf("__      __")
	b.Printf(" ___ ")
	r.Printf(" __ _ ")
	y.Printf(" _ __ ")
	b.Println(" | |_ ")

	// Line 3
	r.Printf("| '_ \\ ")
	y.Printf("\\ \\ /\\ / /")
	b.Printf("/ __|")
	r.Printf("/ _` |")
	y.Printf("| '_ \\ ")
	b.Println("| __|")

	// Line 4
	r.Printf("| |_) |")
	y.Printf(" \\ V  V / ")
	b.Printf("| (__")
	r.Printf("| (_| |")
	y.Printf("| |_) |")
	b.Println("| |_ ")

	// Line 5
	r.Printf("| .__/ ")
	y.Printf("  \\_/\\_/  ")
	b.Printf(" \\___|")
	r.Printf("\\__,_|")
	y.Printf("| .__/ ")
	b.Println(" \\__|")

	// Line 6
	r.Printf("|_|    ")
	y.Printf("          ")
	b.Printf("     ")
	r.Printf("      ")
	y.Println("|_|    ")
	fmt.Println()
}
