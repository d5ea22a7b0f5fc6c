package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

const unspecified = "tidak spesifik"

// Audience describes who the content targets. Ages arrive as numbers or strings.
type Audience struct {
	AgeFrom   json.RawMessage `json:"age_from,omitempty"`
	AgeTo     json.RawMessage `json:"age_to,omitempty"`
	Gender    string          `json:"gender,omitempty"`
	Interests string          `json:"interests,omitempty"`
}

// PlanContext is the form state the plan was generated from.
type PlanContext struct {
	IsProductFocus     bool     `json:"isProductFocus"`
	ProductName        string   `json:"productName,omitempty"`
	ProductDescription string   `json:"productDescription,omitempty"`
	BusinessName       string   `json:"businessName,omitempty"`
	Industry           string   `json:"industry,omitempty"`
	BusinessStage      string   `json:"businessStage,omitempty"`
	ContentMood        string   `json:"contentMood,omitempty"`
	Audience           Audience `json:"audience"`
}

// rawText renders a JSON scalar without quotes; null, empty and non-scalars fall back to def.
func rawText(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}

	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return def
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// BuildRegeneratePrompt asks for one new idea replacing item, keeping its day and platform.
// The prompt is in Indonesian, like the rest of the planner.
func BuildRegeneratePrompt(item Idea, pc PlanContext) string {
	audience := fmt.Sprintf("Usia dari %s sampai %s, Jenis Kelamin %s, dengan minat pada %s.",
		rawText(pc.Audience.AgeFrom, unspecified),
		rawText(pc.Audience.AgeTo, unspecified),
		orDefault(pc.Audience.Gender, "semua"),
		orDefault(pc.Audience.Interests, unspecified),
	)

	var base string
	if pc.IsProductFocus {
		base = fmt.Sprintf("untuk produk %q (%s)", pc.ProductName, pc.ProductDescription)
	} else {
		base = fmt.Sprintf("untuk bisnis %q di industri %q", pc.BusinessName, pc.Industry)
	}

	var b strings.Builder
	b.WriteString("Anda adalah ahli strategi sosial media. Saya butuh satu ide konten BARU untuk menggantikan ide yang sudah ada.\n\n")
	fmt.Fprintf(&b, "Konteks Bisnis: %s\n", base)
	fmt.Fprintf(&b, "Target Audiens: %s\n", audience)
	fmt.Fprintf(&b, "Tujuan Konten: %s\n", pc.BusinessStage)
	fmt.Fprintf(&b, "Suasana Konten: %s\n", pc.ContentMood)
	fmt.Fprintf(&b, "Platform: %s\n\n", item.Platform)
	fmt.Fprintf(&b, "Ide yang akan diganti adalah: %q (Pilar: %s).\n\n", item.Idea, item.Pillar)
	b.WriteString("Tugas Anda:\n")
	b.WriteString("1. Buat satu ide konten yang SANGAT BERBEDA dari ide yang sudah ada.\n")
	b.WriteString("2. Ide baru harus tetap sesuai dengan semua konteks (audiens, tujuan, suasana, platform).\n")
	fmt.Fprintf(&b, "3. Jaga agar tanggal/hari ('day') tetap sama: %q.\n", item.Day)
	b.WriteString("4. Hasilkan dalam format JSON tunggal (bukan dalam array 'plan'), sesuai dengan skema yang diberikan.\n")
	b.WriteString("ATURAN MUTLAK: Seluruh teks dalam respons JSON yang Anda hasilkan HARUS dalam Bahasa Indonesia.")

	return b.String()
}
