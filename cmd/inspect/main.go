package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// Offline keyspace inspector. Opens the database read-only so it can
// run alongside a live master process.
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "queue:", "Prefix to scan (msg:, dlv:, queue:, user:, group:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	banner := fmt.Sprintf(" Hub Inspector | %s [%s] ", *dbPath, *prefix)
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(banner))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				kind, detail := describe(string(item.Key()), v)
				table.Append([]string{string(item.Key()), kind, detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func describe(key string, val []byte) (string, string) {
	switch {
	case strings.HasPrefix(key, "msg:"):
		var m struct {
			SenderID string `json:"sender_id"`
			Body     string `json:"body"`
		}
		if err := json.Unmarshal(val, &m); err != nil {
			return "MESSAGE", "Error: unmarshal failed"
		}
		return "MESSAGE", fmt.Sprintf("%s: %s", m.SenderID, m.Body)

	case strings.HasPrefix(key, "dlv:"):
		var d struct {
			RecipientID string `json:"recipient_id"`
			Status      string `json:"status"`
		}
		if err := json.Unmarshal(val, &d); err != nil {
			return "DELIVERY", "Error: unmarshal failed"
		}
		return "DELIVERY", fmt.Sprintf("%s -> %s", d.RecipientID, d.Status)

	case strings.HasPrefix(key, "queue:"):
		return "QUEUE", string(val)

	case strings.HasPrefix(key, "user:"):
		var u struct {
			DisplayName string `json:"display_name"`
		}
		if err := json.Unmarshal(val, &u); err != nil {
			return "USER", "Error: unmarshal failed"
		}
		return "USER", u.DisplayName

	case strings.HasPrefix(key, "group:"):
		var g struct {
			Name    string   `json:"name"`
			Members []string `json:"members"`
		}
		if err := json.Unmarshal(val, &g); err != nil {
			return "GROUP", "Error: unmarshal failed"
		}
		return "GROUP", fmt.Sprintf("%s (%d members)", g.Name, len(g.Members))
	}
	return "RAW", fmt.Sprintf("Size: %d bytes", len(val))
}

func openDB(path string) (*badger.DB, error) {
	// BypassLockGuard allows opening while the master holds the lock.
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	return badger.Open(opts)
}
