package app

import (
	"fmt"
	"strings"
)

// Command はhuddleバイナリのサブコマンド。
type Command string

const (
	// CommandServe はHTTP/WebSocketサーバーと放置セッションのクリーンアップを起動する。
	CommandServe Command = "serve"
	// CommandMigrate はセッションストアのスキーマを最新にする。STORE_DRIVER=postgres でのみ有効。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /health を確認して終了する。
	// シェルのないdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がない場合はserve。2つ目以降の引数は無視する。
// 綴り間違いでサーバーが起動しないよう、未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return "", fmt.Errorf("unknown command %q (want one of: %s)", args[0], strings.Join(names, ", "))
}
