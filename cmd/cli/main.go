package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"memory-engine/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("memory-engine cli 0.1.0")
	case "config":
		runConfig()
	case "server":
		if len(args) > 0 && args[0] == "start" {
			runServerStart()
		} else {
			fmt.Fprintf(os.Stderr, "Usage: memctl server start\n")
			os.Exit(1)
		}
	case "session":
		runSession(args)
	case "retrieve":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: memctl retrieve <session_id> <query> [max_tokens]\n")
			os.Exit(1)
		}
		runRetrieve(args)
	case "write":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: memctl write <session_id> <content>\n")
			os.Exit(1)
		}
		runWrite(args[0], args[1])
	case "pin":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "Usage: memctl pin <client_id> <category> <content>\n")
			os.Exit(1)
		}
		runPin(args[0], args[1], args[2])
	case "usage":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: memctl usage <client_id>\n")
			os.Exit(1)
		}
		runUsage(args[0])
	case "spans":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: memctl spans <client_id>\n")
			os.Exit(1)
		}
		runSpans(args[0])
	case "evict":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: memctl evict <target_tokens>\n")
			os.Exit(1)
		}
		runEvict(args[0])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: memctl <command> [args]")
	fmt.Println("  version                      - 显示版本")
	fmt.Println("  config                       - 显示配置概要")
	fmt.Println("  server start                 - 启动 API 服务（go run ./cmd/api）")
	fmt.Println("  session start <client_id> [max_tokens] - 启动会话，返回 session_id")
	fmt.Println("  session end <session_id> [outcome]     - 结束会话并输出统计")
	fmt.Println("  session stats <session_id>   - 查看会话状态与用量")
	fmt.Println("  retrieve <session_id> <query> [max_tokens] - 预算内检索")
	fmt.Println("  write <session_id> <content> - 写入外部记忆")
	fmt.Println("  pin <client_id> <category> <content> - 永驻一段内容")
	fmt.Println("  usage <client_id>            - 查看 Pin 用量与预算")
	fmt.Println("  spans <client_id>            - 列出客户端全部 Span")
	fmt.Println("  evict <target_tokens>        - 执行一趟驱逐")
}

func runConfig() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg != nil {
		fmt.Printf("api.port=%d\n", cfg.API.Port)
		fmt.Printf("api.host=%s\n", cfg.API.Host)
	}
}

func runServerStart() {
	c := exec.Command("go", "run", "./cmd/api")
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Dir = "."
	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server start: %v\n", err)
		os.Exit(1)
	}
}

func runSession(args []string) {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: memctl session <start|end|stats> ...\n")
		os.Exit(1)
	}
	switch args[0] {
	case "start":
		var maxTokens int64
		if len(args) > 2 {
			maxTokens, _ = strconv.ParseInt(args[2], 10, 64)
		}
		id, err := startSession(args[1], maxTokens)
		if err != nil {
			fmt.Fprintf(os.Stderr, "session start: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(id)
	case "end":
		outcome := "completed"
		if len(args) > 2 {
			outcome = args[2]
		}
		out, err := endSession(args[1], outcome)
		if err != nil {
			fmt.Fprintf(os.Stderr, "session end: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(prettyJSON(out))
	case "stats":
		out, err := sessionStats(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "session stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(prettyJSON(out))
	default:
		fmt.Fprintf(os.Stderr, "Usage: memctl session <start|end|stats> ...\n")
		os.Exit(1)
	}
}

func runRetrieve(args []string) {
	var maxTokens int64 = 1024
	if len(args) > 2 {
		if v, err := strconv.ParseInt(args[2], 10, 64); err == nil {
			maxTokens = v
		}
	}
	out, err := retrieve(args[0], args[1], maxTokens)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrieve: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

func runWrite(sessionID, content string) {
	out, err := writeMemory(sessionID, content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

func runPin(clientID, category, content string) {
	out, err := pin(clientID, category, content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pin: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

func runUsage(clientID string) {
	out, err := pinnedUsage(clientID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

func runSpans(clientID string) {
	out, err := listSpans(clientID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spans: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

func runEvict(target string) {
	tokens, err := strconv.ParseInt(target, 10, 64)
	if err != nil || tokens <= 0 {
		fmt.Fprintf(os.Stderr, "evict: target_tokens 必须为正整数\n")
		os.Exit(1)
	}
	out, err := evict(tokens)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evict: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}
