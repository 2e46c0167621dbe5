package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/models"
)

func main() {
	manifestPath := flag.String("manifest", "internal/models/manifest.yaml", "Path to manifest YAML to update")
	force := flag.Bool("force", false, "re-hash artefacts that already carry a checksum")
	flag.Parse()

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read manifest: %v\n", err)
		os.Exit(1)
	}

	manifest, err := models.LoadManifest(bytes.NewReader(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse manifest: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Minute}

	for i, variant := range manifest.Variants {
		precisions := make([]string, 0, len(variant.Files))
		for precision := range variant.Files {
			precisions = append(precisions, precision)
		}
		sort.Strings(precisions)

		for _, precision := range precisions {
			file := variant.Files[precision]
			label := variant.Name + "/" + precision
			if file.URL == "" {
				fmt.Printf("%s: skipping (no URL)\n", label)
				continue
			}
			if file.SHA256 != "" && !*force {
				fmt.Printf("%s: skipping (checksum present)\n", label)
				continue
			}

			fmt.Printf("%s: downloading %s...\n", label, file.URL)
			sum, size, err := hashRemote(client, file.URL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
				continue
			}
			file.SHA256 = sum
			file.SizeBytes = size
			manifest.Variants[i].Files[precision] = file
			fmt.Printf("%s: size=%d sha256=%s\n", label, size, sum)
		}
	}

	var out bytes.Buffer
	if err := manifest.Encode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "encode manifest: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*manifestPath, out.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write manifest: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Updated manifest written to %s\n", *manifestPath)
}

func hashRemote(client *http.Client, url string) (string, int64, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", 0, fmt.Errorf("download error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	hasher := sha256.New()
	written, err := io.Copy(hasher, resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read error: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), written, nil
}
