package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/John-Robertt/sb3fetch/internal/domain"
	"github.com/John-Robertt/sb3fetch/internal/infra/fsx"
)

// emitReport 输出最终结果。
//
// - stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（摘要走 stderr）
// - stdout 是 TTY：输出人类可读的表格，失败/跳过的资源逐条列出
func emitReport(stdout, stderr io.Writer, rr domain.RunReport, tty bool) {
	if tty {
		fmt.Fprintln(stdout, renderSummary(rr))
		if skipped := renderSkipped(rr); skipped != "" {
			fmt.Fprintln(stdout, skipped)
		}
		if rr.ErrorCode != "" {
			fmt.Fprintf(stderr, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
		}
		return
	}

	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	line := fmt.Sprintf("完成：state=%s fetched=%d skipped=%d duplicates=%d bytes=%s",
		rr.State, s.Fetched, s.Skipped, s.Duplicates, humanize.Bytes(uint64(s.Bytes)),
	)
	if rr.ErrorCode != "" {
		line += " error_code=" + rr.ErrorCode
	}
	return line
}

func renderSummary(rr domain.RunReport) string {
	s := rr.Summary
	rows := [][]string{
		{"project", rr.ProjectID},
		{"title", rr.Title},
		{"author", rr.Author},
		{"output", rr.Output},
		{"state", string(rr.State)},
		{"targets", strconv.Itoa(s.Targets)},
		{"assets", fmt.Sprintf("%d (fetched %d, skipped %d, duplicates %d)", s.Assets, s.Fetched, s.Skipped, s.Duplicates)},
		{"bytes", humanize.Bytes(uint64(s.Bytes))},
		{"entries", strconv.Itoa(len(rr.Entries))},
	}
	if rr.ErrorCode != "" {
		rows = append(rows, []string{"error", rr.ErrorCode})
	}
	return renderTable([]string{"字段", "值"}, rows, nil)
}

func renderSkipped(rr domain.RunReport) string {
	var rows [][]string
	for _, a := range rr.Assets {
		if a.Status != domain.AssetStatusSkipped {
			continue
		}
		rows = append(rows, []string{a.Target, string(a.Kind), a.Name, a.ContentID, a.ErrorCode})
	}
	if len(rows) == 0 {
		return ""
	}
	return renderTable([]string{"target", "kind", "name", "content_id", "error_code"}, rows, nil)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func marshalReport(rr domain.RunReport) ([]byte, error) {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// writeReportFile 原子写入 report（已存在则覆盖）。
func writeReportFile(path string, rr domain.RunReport) error {
	b, err := marshalReport(rr)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
