package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/loganmanery/filevault/internal/config"
	"github.com/loganmanery/filevault/internal/crypto"
	"github.com/loganmanery/filevault/pkg/manager"
	"github.com/loganmanery/filevault/pkg/models"

	"golang.org/x/term"
)

// app bundles what every menu action needs
type app struct {
	fm         *manager.FileManager
	cfg        *config.Config
	session    models.Session
	algorithms []crypto.Algorithm
	reader     *bufio.Reader
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration")
	user := flag.String("user", "", "acting username")
	isAdmin := flag.Bool("admin", false, "act with administrator rights")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *user == "" {
		fmt.Println("A username is required (-user).")
		os.Exit(1)
	}

	// Create data directories if they don't exist
	for _, dir := range []string{filepath.Dir(cfg.Path.DBFile), cfg.Path.Download} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			fmt.Printf("Error creating directory %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	log := cfg.NewLogger()

	fm, err := manager.NewFileManager(manager.Options{
		DBPath:     cfg.Path.DBFile,
		UploadDir:  cfg.Path.Upload,
		HashParams: cfg.HashParams(),
		Logger:     log,
	})
	if err != nil {
		fmt.Printf("Error creating file manager: %v\n", err)
		os.Exit(1)
	}
	defer fm.Close()

	if err := fm.Initialize(); err != nil {
		fmt.Printf("Error initializing file manager: %v\n", err)
		os.Exit(1)
	}

	algorithms, _ := cfg.EnabledAlgorithms()

	session := models.Session{Username: *user, Role: models.RoleUser}
	if *isAdmin {
		session.Role = models.RoleAdmin
	}

	a := &app{
		fm:         fm,
		cfg:        cfg,
		session:    session,
		algorithms: algorithms,
		reader:     bufio.NewReader(os.Stdin),
	}
	a.run()
}

// run runs the command-line interface
func (a *app) run() {
	fmt.Printf("=== %s ===\n", a.cfg.App.Name)
	fmt.Printf("Signed in as %s (%s)\n", a.session.Username, a.session.Role)

	for {
		fmt.Println("\nMain Menu:")
		fmt.Println("1. List files")
		fmt.Println("2. Upload file")
		fmt.Println("3. Edit file")
		fmt.Println("4. Verify file password")
		fmt.Println("5. Download file")
		fmt.Println("6. Delete file")
		fmt.Println("7. Generate password")
		fmt.Println("0. Exit")
		fmt.Print("Enter your choice: ")

		choice, err := a.reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}

		switch strings.TrimSpace(choice) {
		case "1":
			a.listFiles()
		case "2":
			a.uploadFile()
		case "3":
			a.editFile()
		case "4":
			a.verifyFile()
		case "5":
			a.downloadFile()
		case "6":
			a.deleteFile()
		case "7":
			a.generatePassword()
		case "0":
			fmt.Println("Exiting...")
			return
		default:
			fmt.Println("Invalid choice, please try again.")
		}
	}
}

// listFiles displays the files visible to the session
func (a *app) listFiles() {
	fmt.Print("Search (leave empty for all): ")
	keyword := a.readLine()

	files, err := a.fm.List(a.session, models.SearchParams{Keyword: keyword})
	if err != nil {
		fmt.Printf("Error listing files: %v\n", err)
		return
	}

	if len(files) == 0 {
		fmt.Println("No files found.")
		return
	}

	fmt.Println("\nEncrypted Files:")
	fmt.Println("ID   | File name             | Owner        | Algo | Size")
	fmt.Println("-----+-----------------------+--------------+------+----------")

	for _, f := range files {
		fmt.Printf("%-4d | %-21s | %-12s | %-4s | %d\n",
			f.ID, truncateString(f.FileName, 21), truncateString(f.Username, 12), f.Algorithm, f.FileSize)
	}
}

// uploadFile encrypts a local file
func (a *app) uploadFile() {
	fmt.Print("Path of the file to encrypt: ")
	path := a.readLine()
	if path == "" {
		fmt.Println("Upload cancelled.")
		return
	}

	fmt.Printf("File name [%s]: ", filepath.Base(path))
	name := a.readLine()

	alg, ok := a.readAlgorithm(a.cfg.DefaultAlgorithm())
	if !ok {
		return
	}

	fmt.Print("Description: ")
	description := a.readLine()

	fmt.Print("Make public? (y/n) [n]: ")
	public := confirmOption(a.readLine(), false)

	password, ok := a.readNewPassword(alg)
	if !ok {
		return
	}

	file, err := a.fm.UploadFile(a.session, manager.UploadRequest{
		Password:    password,
		Algorithm:   alg,
		FileName:    name,
		Description: description,
		Public:      public,
	}, path)
	if err != nil {
		printError("uploading file", err)
		return
	}

	fmt.Printf("Uploaded %s with %s, ID: %d\n", file.FileName, file.Algorithm, file.ID)
}

// editFile re-encrypts a file with a new algorithm and name
func (a *app) editFile() {
	file, ok := a.readFile("Enter file ID to edit: ")
	if !ok {
		return
	}

	fmt.Printf("File name [%s]: ", file.FileName)
	name := a.readLine()

	alg, ok := a.readAlgorithm(file.Algorithm)
	if !ok {
		return
	}

	fmt.Print("File password: ")
	password, err := readPassword()
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}

	edited, err := a.fm.Edit(a.session, file, password, alg, name)
	if err != nil {
		printError("editing file", err)
		return
	}

	fmt.Printf("Updated %s, now encrypted with %s.\n", edited.FileName, edited.Algorithm)
}

// verifyFile checks a password without decrypting
func (a *app) verifyFile() {
	file, ok := a.readFile("Enter file ID to verify: ")
	if !ok {
		return
	}

	fmt.Print("File password: ")
	password, err := readPassword()
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}

	if a.fm.VerifyPassword(file, password) {
		fmt.Println("Password is correct.")
	} else {
		fmt.Println("Wrong password.")
	}
}

// downloadFile decrypts a file into the download directory
func (a *app) downloadFile() {
	file, ok := a.readFile("Enter file ID to download: ")
	if !ok {
		return
	}

	defaultDest := filepath.Join(a.cfg.Path.Download, filepath.Base(file.FileName))
	fmt.Printf("Save to [%s]: ", defaultDest)
	dest := a.readLine()
	if dest == "" {
		dest = defaultDest
	}

	fmt.Print("File password: ")
	password, err := readPassword()
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}

	if err := a.fm.Download(a.session, file, password, dest); err != nil {
		printError("downloading file", err)
		return
	}

	fmt.Printf("Downloaded to %s\n", dest)
}

// deleteFile deletes a file after confirmation
func (a *app) deleteFile() {
	file, ok := a.readFile("Enter file ID to delete: ")
	if !ok {
		return
	}

	fmt.Printf("Are you sure you want to delete %s? (y/n): ", file.FileName)
	if !confirmOption(a.readLine(), false) {
		fmt.Println("Deletion cancelled.")
		return
	}

	if err := a.fm.Delete(a.session, file.ID); err != nil {
		printError("deleting file", err)
		return
	}

	fmt.Println("File deleted successfully.")
}

// generatePassword prints a password that fits the chosen algorithm
func (a *app) generatePassword() {
	alg, ok := a.readAlgorithm(a.cfg.DefaultAlgorithm())
	if !ok {
		return
	}

	password, err := a.fm.GeneratePassword(alg)
	if err != nil {
		fmt.Printf("Error generating password: %v\n", err)
		return
	}

	fmt.Printf("\nGenerated Password: %s\n", password)
}

// Helper functions

// readFile prompts for an ID and loads the record
func (a *app) readFile(prompt string) (*models.EncryptedFile, bool) {
	fmt.Print(prompt)
	id, err := strconv.ParseInt(a.readLine(), 10, 64)
	if err != nil {
		fmt.Println("Invalid ID.")
		return nil, false
	}

	file, err := a.fm.Get(a.session, id)
	if err != nil {
		printError("retrieving file", err)
		return nil, false
	}
	return file, true
}

// readAlgorithm prompts for one of the enabled algorithms
func (a *app) readAlgorithm(def crypto.Algorithm) (crypto.Algorithm, bool) {
	names := make([]string, len(a.algorithms))
	for i, alg := range a.algorithms {
		names[i] = alg.String()
	}

	fmt.Printf("Algorithm (%s) [%s]: ", strings.Join(names, ", "), def)
	input := a.readLine()
	if input == "" {
		return def, true
	}

	alg, err := crypto.ParseAlgorithm(input)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 0, false
	}
	for _, enabled := range a.algorithms {
		if enabled == alg {
			return alg, true
		}
	}
	fmt.Printf("Algorithm %s is not enabled.\n", alg)
	return 0, false
}

// readNewPassword asks for a password twice, offering to generate one
func (a *app) readNewPassword(alg crypto.Algorithm) (string, bool) {
	for {
		fmt.Printf("Encryption password (max %d bytes, empty to generate): ", alg.KeyWidth())
		password, err := readPassword()
		if err != nil {
			fmt.Printf("Error reading password: %v\n", err)
			return "", false
		}

		if password == "" {
			password, err = a.fm.GeneratePassword(alg)
			if err != nil {
				fmt.Printf("Error generating password: %v\n", err)
				return "", false
			}
			fmt.Printf("Generated password: %s\n", password)
			return password, true
		}

		if len(password) > alg.KeyWidth() {
			fmt.Printf("Password must be at most %d bytes for %s.\n", alg.KeyWidth(), alg)
			continue
		}

		fmt.Print("Confirm password: ")
		confirm, err := readPassword()
		if err != nil {
			fmt.Printf("Error reading password: %v\n", err)
			return "", false
		}
		if password != confirm {
			fmt.Println("Passwords do not match. Please try again.")
			continue
		}
		return password, true
	}
}

// printError maps manager errors to user-facing messages
func printError(action string, err error) {
	var tooLong *crypto.PasswordTooLongError

	switch {
	case errors.As(err, &tooLong):
		fmt.Printf("Error %s: password must be at most %d bytes for %s\n", action, tooLong.Max, tooLong.Algorithm)
	case errors.Is(err, manager.ErrWrongPassword):
		fmt.Println("Wrong password.")
	case errors.Is(err, crypto.ErrDecryptionFailed):
		fmt.Println("Decryption failed: wrong password or corrupted file.")
	default:
		fmt.Printf("Error %s: %v\n", action, err)
	}
}

// readPassword reads a password without echoing it to the terminal
func readPassword() (string, error) {
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Add a newline after password input
	if err != nil {
		return "", err
	}

	return string(bytePassword), nil
}

// readLine reads a line from the reader and trims spaces
func (a *app) readLine() string {
	text, _ := a.reader.ReadString('\n')
	return strings.TrimSpace(text)
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// confirmOption handles y/n confirmation for options
func confirmOption(input string, defaultValue bool) bool {
	input = strings.ToLower(input)
	if input == "" {
		return defaultValue
	}
	return input == "y" || input == "yes"
}
