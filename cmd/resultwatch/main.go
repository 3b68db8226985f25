// Command resultwatch は結果一覧ページの監視・差分記録・通知を行う。
package main

import (
	"os"

	"github.com/hitoshi/resultwatch/internal/app"
)

func main() {
	os.Exit(app.Main())
}
