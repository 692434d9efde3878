// Package main はユーザーディレクトリにユーザーを登録するコマンドです。
//
//	adduser -db ./directory.db -username alice -tenants acme,globex < password.txt
//	adduser -hash < password.txt   # APP_PASSWORD_HASH 用のハッシュだけを出力
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yourusername/groundtruth/internal/directory"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "adduser: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	var (
		dbPath   = fs.String("db", os.Getenv("DIRECTORY_PATH"), "SQLite directory path (default $DIRECTORY_PATH)")
		username = fs.String("username", "", "username to create or update")
		tenants  = fs.String("tenants", "", "comma separated tenants; the first one becomes the active tenant")
		hashOnly = fs.Bool("hash", false, "print a bcrypt hash of the password and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := readPassword(stdin)
	if err != nil {
		return err
	}

	if *hashOnly {
		hash, err := directory.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, hash)
		return nil
	}

	if *dbPath == "" {
		return errors.New("-db or DIRECTORY_PATH is required")
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("-username is required")
	}

	dir, err := directory.OpenSQLite(*dbPath)
	if err != nil {
		return err
	}
	defer dir.Close()

	list := splitTenants(*tenants)
	if err := dir.PutUser(context.Background(), strings.TrimSpace(*username), password, list); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "saved %s (tenants: %s)\n", strings.TrimSpace(*username), strings.Join(list, ", "))
	return nil
}

// readPassword は標準入力の1行目をパスワードとして読みます。
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password must be given on stdin")
	}
	return password, nil
}

func splitTenants(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
