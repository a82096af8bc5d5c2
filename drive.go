package main

import (
	"context"
	"strconv"
	"strings"

	drive "google.golang.org/api/drive/v3"

	"github.com/wesnick/gw/pkg/gw"
)

const defaultDriveQuery = "trashed = false"

type fileOutput struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`
	Owners       []string `json:"owners,omitempty"`
	WebViewLink  string   `json:"webViewLink,omitempty"`
	Size         int64    `json:"size,omitempty"`
}

type driveListOutput struct {
	OK            bool         `json:"ok"`
	Action        string       `json:"action"`
	Query         string       `json:"query,omitempty"`
	Count         int          `json:"count"`
	NextPageToken *string      `json:"nextPageToken,omitempty"`
	Files         []fileOutput `json:"files"`
}

type driveGetOutput struct {
	OK     bool       `json:"ok"`
	Action string     `json:"action"`
	File   fileOutput `json:"file"`
}

func newFileOutput(f *drive.File) fileOutput {
	fo := fileOutput{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		ModifiedTime: f.ModifiedTime,
		WebViewLink:  f.WebViewLink,
		Size:         f.Size,
	}
	for _, o := range f.Owners {
		if o.EmailAddress != "" {
			fo.Owners = append(fo.Owners, o.EmailAddress)
		} else {
			fo.Owners = append(fo.Owners, o.DisplayName)
		}
	}
	return fo
}

func runDriveSearch(ctx context.Context, conn *gw.Connection, query, pageToken string, max int64, out *outputWriter) error {
	if strings.TrimSpace(query) == "" {
		query = defaultDriveQuery
	}
	res, err := conn.SearchFiles(ctx, gw.FileQuery{
		Query:     query,
		PageToken: pageToken,
		PageSize:  clamp(max, 1, 200),
	})
	if err != nil {
		return err
	}

	output := driveListOutput{
		OK:            true,
		Action:        "drive.search",
		Query:         query,
		Count:         len(res.Files),
		NextPageToken: nullable(res.NextPageToken),
		Files:         newFileOutputs(res.Files),
	}
	return out.write(output, func() error {
		return writeFileTable(out, output.Files)
	})
}

func runDriveRecent(ctx context.Context, conn *gw.Connection, max int64, out *outputWriter) error {
	res, err := conn.SearchFiles(ctx, gw.FileQuery{
		Query:    defaultDriveQuery,
		OrderBy:  "modifiedTime desc",
		PageSize: clamp(max, 1, 200),
	})
	if err != nil {
		return err
	}

	output := driveListOutput{
		OK:     true,
		Action: "drive.recent",
		Count:  len(res.Files),
		Files:  newFileOutputs(res.Files),
	}
	return out.write(output, func() error {
		return writeFileTable(out, output.Files)
	})
}

func runDriveGet(ctx context.Context, conn *gw.Connection, id string, out *outputWriter) error {
	f, err := conn.GetFile(ctx, id)
	if err != nil {
		return err
	}

	output := driveGetOutput{OK: true, Action: "drive.get", File: newFileOutput(f)}
	return out.write(output, func() error {
		fo := output.File
		return out.writeFields([][2]string{
			{"ID", fo.ID},
			{"Name", fo.Name},
			{"Type", fo.MimeType},
			{"Modified", fo.ModifiedTime},
			{"Owners", strings.Join(fo.Owners, ", ")},
			{"Size", strconv.FormatInt(fo.Size, 10)},
			{"Link", fo.WebViewLink},
		})
	})
}

func newFileOutputs(files []*drive.File) []fileOutput {
	res := make([]fileOutput, 0, len(files))
	for _, f := range files {
		res = append(res, newFileOutput(f))
	}
	return res
}

func writeFileTable(out *outputWriter, files []fileOutput) error {
	if len(files) == 0 {
		out.writeMessage("No files found")
		return nil
	}
	headers := []string{"NAME", "MODIFIED", "TYPE", "ID"}
	var rows [][]string
	for _, f := range files {
		rows = append(rows, []string{truncateString(f.Name, 50), f.ModifiedTime, f.MimeType, f.ID})
	}
	return out.writeTable(headers, rows)
}
