// Command mockserver is a stand-in for the speech and translation servers
// during local development. It answers Whisper-style transcription and
// translation uploads and LibreTranslate /translate and /languages calls
// with canned text.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
)

const (
	frenchText  = "Ceci est une transcription de test."
	englishText = "This is a test transcription."
)

type verboseResponse struct {
	Task     string    `json:"task"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
}

type segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type language struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

var delay time.Duration

func speechHandler(task string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		audioData, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		lang := r.FormValue("language")
		log.Printf("%s request: file=%s size=%d language=%q model=%s request_id=%s",
			task, header.Filename, len(audioData), lang, r.FormValue("model"), r.Header.Get("X-Request-ID"))

		samples, rate, err := audio.DecodeWAV(audioData)
		if err != nil {
			http.Error(w, "Invalid audio file: "+err.Error(), http.StatusBadRequest)
			return
		}

		time.Sleep(delay)

		duration := float64(len(samples)) / float64(rate)

		resp := verboseResponse{Task: task, Duration: duration}
		switch {
		case task == "translate":
			resp.Language, resp.Text = "english", englishText
		case strings.HasPrefix(lang, "en"):
			resp.Language, resp.Text = "english", englishText
		default:
			resp.Language, resp.Text = "french", frenchText
		}
		resp.Segments = []segment{{Start: 0, End: duration, Text: resp.Text}}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
		log.Printf("%s response sent: %q", task, resp.Text)
	}
}

func translateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Q      string `json:"q"`
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing body", http.StatusBadRequest)
		return
	}
	log.Printf("translate request: %s->%s %q", req.Source, req.Target, req.Q)

	time.Sleep(delay)

	text := req.Q
	switch req.Target {
	case "fr":
		text = frenchText
	case "en":
		text = englishText
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"translatedText": text})
}

func languagesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode([]language{
		{Code: "en", Name: "English", Targets: []string{"fr"}},
		{Code: "fr", Name: "French", Targets: []string{"en"}},
	})
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	flag.DurationVar(&delay, "delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/audio/transcriptions", speechHandler("transcribe"))
	mux.HandleFunc("POST /v1/audio/translations", speechHandler("translate"))
	mux.HandleFunc("POST /translate", translateHandler)
	mux.HandleFunc("GET /languages", languagesHandler)

	log.Printf("Mock speech and translation server starting on %s", *addr)
	log.Printf("Set transcription.endpoint and translation.endpoint to http://localhost%s", *addr)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
