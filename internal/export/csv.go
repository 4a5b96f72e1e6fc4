// Package export はセッションのスナップショットをCSVに書き出す。
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hitoshi/huddle/internal/model"
)

// utf8BOM はExcelでUTF-8として開かせるために先頭に付与する。
const utf8BOM = "\ufeff"

// Filename はダウンロード時のファイル名を返す。
func Filename(snap *model.Snapshot, now time.Time) string {
	prefix := "poker"
	if snap.Kind == model.KindRetrospective {
		prefix = "retro"
	}
	return fmt.Sprintf("%s-%s-%s.csv", prefix, snap.SessionID, now.Format("2006-01-02"))
}

// WriteCSV はスナップショットをセッション種別に応じたレイアウトでwに書き出す。
func WriteCSV(w io.Writer, snap *model.Snapshot) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("CSVの書き出しに失敗しました: %w", err)
	}

	cw := csv.NewWriter(w)
	rows := header(snap)
	switch snap.Kind {
	case model.KindRetrospective:
		rows = append(rows, retroRows(snap)...)
	default:
		rows = append(rows, estimationRows(snap)...)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("CSVの書き出しに失敗しました: %w", err)
	}
	return nil
}

func header(snap *model.Snapshot) [][]string {
	rows := [][]string{
		{"Project Details"},
		{"Project Name", snap.Name},
		{"Session ID", snap.SessionID},
		{"Created At", snap.CreatedAt.UTC().Format(time.RFC3339)},
		{},
		{"Team Members"},
		{"Name", "Role"},
	}
	for _, p := range snap.Participants {
		role := "Member"
		if p.IsHost {
			role = "Host"
		}
		rows = append(rows, []string{p.DisplayName, role})
	}
	return append(rows, []string{})
}

// retroRows はカテゴリごとのアイテムを横に並べ、最後に件数の集計を付ける。
func retroRows(snap *model.Snapshot) [][]string {
	byCategory := make(map[string][]model.ItemView, len(snap.Categories))
	longest := 0
	for _, it := range snap.Items {
		byCategory[it.Category] = append(byCategory[it.Category], it)
		if n := len(byCategory[it.Category]); n > longest {
			longest = n
		}
	}

	rows := [][]string{{"Retro Items By Category"}}
	head := make([]string, 0, len(snap.Categories)*3)
	for _, c := range snap.Categories {
		head = append(head, c+" - Item", c+" - Author", c+" - Votes")
	}
	rows = append(rows, head)

	for i := 0; i < longest; i++ {
		row := make([]string, 0, len(head))
		for _, c := range snap.Categories {
			items := byCategory[c]
			if i >= len(items) {
				row = append(row, "", "", "")
				continue
			}
			row = append(row, items[i].Title, items[i].AuthorName, optionalInt(items[i].VoteCount))
		}
		rows = append(rows, row)
	}

	rows = append(rows, []string{}, []string{"Summary"}, []string{"Total Items", strconv.Itoa(len(snap.Items))})
	for _, c := range snap.Categories {
		rows = append(rows, []string{c + " Items", strconv.Itoa(len(byCategory[c]))})
	}
	return rows
}

func estimationRows(snap *model.Snapshot) [][]string {
	rows := [][]string{
		{"Stories"},
		{"Title", "Status", "Final Estimate", "Average", "Most Frequent", "Votes"},
	}
	estimated := 0
	for _, it := range snap.Items {
		var average, mostFrequent, votes string
		if it.Summary != nil {
			if it.Summary.Average != nil {
				average = strconv.FormatFloat(*it.Summary.Average, 'f', -1, 64)
			}
			mostFrequent = it.Summary.MostFrequent
			votes = strconv.Itoa(it.Summary.VoteCount)
		}
		if it.Status == model.ItemFinalized {
			estimated++
		}
		rows = append(rows, []string{it.Title, string(it.Status), it.FinalValue, average, mostFrequent, votes})
	}
	return append(rows,
		[]string{},
		[]string{"Summary"},
		[]string{"Total Stories", strconv.Itoa(len(snap.Items))},
		[]string{"Estimated Stories", strconv.Itoa(estimated)},
	)
}

func optionalInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
