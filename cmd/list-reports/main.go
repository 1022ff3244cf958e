package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/z-wentao/okoshi/pkg/config"
	"github.com/z-wentao/okoshi/pkg/report"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（用于读取 storage.reports_dir）")
	dir := flag.String("dir", "transcription_results", "报告目录")
	detail := flag.Bool("detail", false, "解析报告并显示时长、片段数和警告")
	flag.Parse()

	if *configPath != "" {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("❌ 加载配置失败: %v\n", err)
			os.Exit(1)
		}
		*dir = cfg.Storage.ReportsDir
	}

	entries, err := report.List(*dir)
	if err != nil {
		fmt.Printf("❌ 读取报告目录失败: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Printf("📭 %s 中还没有报告\n", *dir)
		return
	}

	fmt.Printf("✅ 找到 %d 份报告：\n\n", len(entries))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	for i, e := range entries {
		fmt.Printf("📄 %s\n", e.Name)
		fmt.Printf("   大小: %.1f KB  修改时间: %s\n", float64(e.Size)/1024, e.ModTime.Format("2006-01-02 15:04:05"))
		if *detail {
			printSummary(filepath.Join(*dir, e.Name))
		}
		if i < len(entries)-1 {
			fmt.Println("   ────────────────────────────────────────")
		}
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func printSummary(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("   ⚠️  无法打开: %v\n", err)
		return
	}
	defer f.Close()

	rep, err := report.Parse(f)
	if err != nil {
		fmt.Printf("   ⚠️  无法解析: %v\n", err)
		return
	}
	fmt.Printf("   登録者: %s  原文件: %s\n", rep.User, rep.OriginalFilename)
	fmt.Printf("   时长: %.1f 分钟  处理: %.1f 秒  句子数: %d\n", rep.Duration/60, rep.ProcessingTime, rep.SegmentCount)
	if rep.Warning != "" {
		fmt.Printf("   警告: %s\n", rep.Warning)
	}
}
