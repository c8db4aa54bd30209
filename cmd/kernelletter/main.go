// Command kernelletter はKakaoログインで手紙をやり取りするサービスのバックエンド。
//
// サブコマンド:
//
//	serve        APIサーバーを起動する（デフォルト）
//	worker       期限切れセッションのクリーンアップを定期実行する
//	migrate      データベースマイグレーションを適用する
//	healthcheck  /health を叩いて結果を終了コードで返す
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/kernelletter/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "kernelletter: %v\n", err)
		os.Exit(1)
	}
}
