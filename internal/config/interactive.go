package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	inputFile = os.Stdin
)

func guidedInitialization(config *Config) error {
	scanner := bufio.NewScanner(inputFile)

	input, err := ask(scanner, fmt.Sprintf("Enter connection type (FTP, FTPS, SFTP) [default: %s]", config.ConnectionType))
	if err != nil {
		return err
	}
	if input != "" {
		ct, err := ParseConnectionType(input)
		if err != nil {
			return err
		}
		config.ConnectionType = ct
	}

	input, err = ask(scanner, "Enter host")
	if err != nil {
		return err
	}
	config.Host = input

	input, err = ask(scanner, "Enter port [default: protocol default]")
	if err != nil {
		return err
	}
	if input != "" {
		port, err := strconv.Atoi(input)
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		config.Port = port
	}

	input, err = ask(scanner, "Enter username")
	if err != nil {
		return err
	}
	config.Username = input

	input, err = ask(scanner, "Enter password")
	if err != nil {
		return err
	}
	config.Password = input

	input, err = ask(scanner, fmt.Sprintf("Enter remote path or glob [default: %s]", config.Path))
	if err != nil {
		return err
	}
	if input != "" {
		config.Path = input
	}

	input, err = ask(scanner, fmt.Sprintf("Enter local output directory [default: %s]", config.OutputDir))
	if err != nil {
		return err
	}
	if input != "" {
		config.OutputDir = input
	}

	input, err = ask(scanner, fmt.Sprintf("Enter state file path [default: %s]", config.State.OutputPath))
	if err != nil {
		return err
	}
	if input != "" {
		config.State.OutputPath = input
	}
	config.State.InputPath = config.State.OutputPath

	return nil
}

func ask(scanner *bufio.Scanner, prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("could not read user input: %w", err)
		}
		return "", nil // EOF or closed input
	}
	return strings.TrimSpace(scanner.Text()), nil
}
