package subtitle

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/sublight/sublight/internal/language"
)

// Format identifies a subtitle file format by its content signature.
type Format string

const (
	FormatUnknown  Format = ""
	FormatSubRip   Format = "subrip"
	FormatASS      Format = "ass"
	FormatWebVTT   Format = "webvtt"
	FormatMicroDVD Format = "microdvd"
	FormatSAMI     Format = "sami"
)

// Ext returns the conventional file extension for the format.
func (f Format) Ext() string {
	switch f {
	case FormatASS:
		return ".ass"
	case FormatWebVTT:
		return ".vtt"
	case FormatMicroDVD:
		return ".sub"
	case FormatSAMI:
		return ".smi"
	default:
		return ".srt"
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FixLineEndings converts CRLF and lone CR to LF and strips a leading
// UTF-8 BOM. Applying it twice yields the same bytes.
func FixLineEndings(b []byte) []byte {
	b = bytes.TrimPrefix(b, utf8BOM)
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}

var (
	srtHeadPattern  = regexp.MustCompile(`(?m)^\d+\n\d{1,2}:\d{2}:\d{2}[,.]\d{1,3}\s*-->`)
	microdvdPattern = regexp.MustCompile(`^\{\d+\}\{\d+\}`)
)

// SniffFormat inspects the first 256 bytes of content and returns the
// detected subtitle format.
func SniffFormat(content []byte) Format {
	head := FixLineEndings(content)
	if len(head) > 256 {
		head = head[:256]
	}
	s := strings.TrimLeft(string(head), " \t\n")
	switch {
	case strings.HasPrefix(s, "WEBVTT"):
		return FormatWebVTT
	case strings.Contains(s, "[Script Info]"):
		return FormatASS
	case microdvdPattern.MatchString(s):
		return FormatMicroDVD
	case strings.Contains(strings.ToUpper(s), "<SAMI"):
		return FormatSAMI
	case srtHeadPattern.MatchString(s):
		return FormatSubRip
	default:
		return FormatUnknown
	}
}

var (
	blankLinePattern = regexp.MustCompile(`\n{2,}`)
	cueIndexPattern  = regexp.MustCompile(`^\d+$`)
	cueTimingPattern = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}[,.]\d{1,3}\s*-->\s*\d{1,2}:\d{2}:\d{2}[,.]\d{1,3}`)
)

// validSubRip reports whether at least 80% of the cue blocks in text
// parse as SubRip cues.
func validSubRip(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	blocks := blankLinePattern.Split(text, -1)
	valid := 0
	for _, block := range blocks {
		if validCue(block) {
			valid++
		}
	}
	return valid*100 >= len(blocks)*80
}

func validCue(block string) bool {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	if len(lines) < 2 {
		return false
	}
	if !cueIndexPattern.MatchString(strings.TrimSpace(lines[0])) {
		return false
	}
	return cueTimingPattern.MatchString(strings.TrimSpace(lines[1]))
}

// Single-byte and CJK fallbacks for content that is neither declared
// nor valid UTF-8, keyed by subtitle language.
var languageEncodings = map[string]encoding.Encoding{
	"ara": charmap.Windows1256,
	"bel": charmap.Windows1251,
	"bul": charmap.Windows1251,
	"ces": charmap.Windows1250,
	"ell": charmap.Windows1253,
	"est": charmap.Windows1257,
	"fas": charmap.Windows1256,
	"heb": charmap.Windows1255,
	"hrv": charmap.Windows1250,
	"hun": charmap.Windows1250,
	"jpn": japanese.ShiftJIS,
	"kor": korean.EUCKR,
	"lav": charmap.Windows1257,
	"lit": charmap.Windows1257,
	"mkd": charmap.Windows1251,
	"pol": charmap.Windows1250,
	"ron": charmap.Windows1250,
	"rus": charmap.Windows1251,
	"slk": charmap.Windows1250,
	"slv": charmap.Windows1250,
	"srp": charmap.Windows1251,
	"tha": charmap.Windows874,
	"tur": charmap.Windows1254,
	"ukr": charmap.Windows1251,
	"vie": charmap.Windows1258,
	"zho": simplifiedchinese.GBK,
}

func fallbackEncoding(l language.Language) encoding.Encoding {
	if enc, ok := languageEncodings[l.Alpha3]; ok {
		return enc
	}
	return charmap.Windows1252
}

// DecodeContent converts raw subtitle bytes to UTF-8. A declared
// charset label wins when recognized; otherwise a BOM decides, then
// valid UTF-8 passes through, and finally a language-informed
// single-byte fallback applies. Undecodable bytes are replaced.
func DecodeContent(content []byte, declared string, l language.Language) (string, error) {
	if len(content) == 0 {
		return "", ErrNoContent
	}
	if declared != "" {
		if enc, err := htmlindex.Get(declared); err == nil {
			return decodeWith(enc, content)
		}
	}
	head := content
	if len(head) > 256 {
		head = head[:256]
	}
	if enc, _, certain := charset.DetermineEncoding(head, ""); certain {
		return decodeWith(enc, content)
	}
	if utf8.Valid(content) {
		return string(content), nil
	}
	return decodeWith(fallbackEncoding(l), content)
}

func decodeWith(enc encoding.Encoding, content []byte) (string, error) {
	decoded, _, err := transform.Bytes(enc.NewDecoder(), content)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
