package main

import (
	"bytes"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"prpipe/pkg/config"
)

// executorKeySecret names the secret external executors read their API key
// from.
const executorKeySecret = "EXECUTOR_API_KEY"

// initSecretsFile interactively creates .prpipe/secrets.json.enc. Refuses to
// overwrite an existing file; delete it first to rotate the passphrase.
func initSecretsFile(projectDir string) error {
	if config.SecretsFileExists(projectDir) {
		return fmt.Errorf("secrets file already exists under %s", config.ProjectConfigDir)
	}

	passphrase, err := promptForPassphrase()
	if err != nil {
		return err
	}

	secrets := make(map[string]string)
	fmt.Print("Executor API key (leave empty to skip): ")
	key, err := term.ReadPassword(syscall.Stdin)
	fmt.Println() // New line after hidden input
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	if len(key) > 0 {
		secrets[executorKeySecret] = string(key)
		for i := range key {
			key[i] = 0
		}
	}

	if err := config.EncryptSecretsFile(projectDir, passphrase, secrets); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✅ Secrets file created.")
	fmt.Printf("💡 Store the passphrase in the environment variable %s for non-interactive startup.\n", config.SecretsKeyEnv)
	return nil
}

// promptForPassphrase reads a new passphrase twice with echo disabled.
func promptForPassphrase() (string, error) {
	maxAttempts := 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Println()
		fmt.Print("Enter a passphrase for the secrets file: ")
		pass1, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}

		fmt.Print("Confirm passphrase: ")
		pass2, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}

		if !bytes.Equal(pass1, pass2) {
			if attempt < maxAttempts {
				fmt.Println("❌ Passphrases do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passphrases do not match after %d attempts", maxAttempts)
		}

		passphrase := string(pass1)

		// Clear passphrase bytes from memory
		for i := range pass1 {
			pass1[i] = 0
		}
		for i := range pass2 {
			pass2[i] = 0
		}

		return passphrase, nil
	}

	return "", fmt.Errorf("failed to get matching passphrases")
}

// loadSecrets decrypts an existing secrets file into memory. The passphrase
// comes from the environment when set, otherwise from an interactive prompt.
func loadSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}
	if os.Getenv(config.SecretsKeyEnv) != "" {
		return config.LoadSecrets(projectDir)
	}

	fmt.Printf("Secrets file found and %s is not set.\n", config.SecretsKeyEnv)
	fmt.Print("Enter the secrets passphrase: ")
	pass, err := term.ReadPassword(syscall.Stdin)
	fmt.Println() // New line after password input
	if err != nil {
		return fmt.Errorf("failed to read passphrase: %w", err)
	}

	secrets, err := config.DecryptSecretsFile(projectDir, string(pass))
	for i := range pass {
		pass[i] = 0
	}
	if err != nil {
		return err
	}

	config.SetDecryptedSecrets(secrets)
	config.LogInfo("🔐 Loaded %d secret(s) into memory", len(secrets))
	return nil
}
