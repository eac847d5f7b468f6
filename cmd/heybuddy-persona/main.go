package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/persona"
)

var version = "0.1.0-dev"

func main() {
	var personaPath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&personaPath, "file", "persona.yaml", "Path to persona manifest")
	showCmd := flag.NewFlagSet("show", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'show' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		p, err := runValidate(personaPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if !p.ReportsStats() {
			fmt.Fprintln(os.Stderr, "warning: system_instruction does not ask for a [METADATA] block")
		}
		fmt.Println("persona valid")
	case "show":
		showCmd.Parse(os.Args[2:])
		p := persona.Default()
		fmt.Printf("name: %s\nvoice: %s\nmoods: %v\n", p.Name, p.Voice, p.Moods)
		for _, s := range p.SafetySettings() {
			fmt.Printf("safety: %s=%s\n", s.Category, s.Threshold)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) (persona.Persona, error) {
	p, err := persona.Load(path)
	if err != nil {
		return p, err
	}
	return p, persona.Validate(p)
}
