// Package scanner extracts structured release information from video and
// subtitle file names. Matching and scoring both run on its output, so
// video names and provider release names go through the same parser.
package scanner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Guess holds everything recognized in a release name. Fields are empty
// or zero when the name carries no such token.
type Guess struct {
	Type             string // "episode" or "movie"
	Title            string // movie title, or episode title for episodes
	Series           string
	Year             int
	Country          string // ISO 3166-1 alpha-2
	Season           int
	Episodes         []int
	ReleaseGroup     string
	Resolution       string // "480p", "720p", "1080p", "2160p", ...
	Source           string
	VideoCodec       string
	AudioCodec       string
	StreamingService string
	Edition          string
}

// Episode returns the lowest episode number, 0 when none was found.
func (g *Guess) Episode() int {
	if len(g.Episodes) == 0 {
		return 0
	}
	return g.Episodes[0]
}

// Structure patterns, tried in order.
var (
	// Show.S01E02 with optional extra episodes: S01E01E02, S01E01-02, S01E01-E03
	episodePatternSE = regexp.MustCompile(`(?i)^(.+?)[\.\s_-]+[Ss](\d{1,2})[\s\._-]?[Ee](\d{1,3})((?:[\s\._-]?[-Ee]+\d{1,3})*)[\.\s_-]*(.*)$`)
	// Show.1x02
	episodePatternX = regexp.MustCompile(`(?i)^(.+?)[\.\s_-]+(\d{1,2})x(\d{1,3})[\.\s_-]*(.*)$`)

	extraEpisodePattern = regexp.MustCompile(`(?i)[Ee]?(\d{1,3})`)

	// Title (Year) and Title.Year forms. The dotted forms are greedy so
	// the last year token wins for titles that contain a year.
	moviePatternParen  = regexp.MustCompile(`^(.+?)\s*\((\d{4})\)\s*(.*)$`)
	moviePatternDot    = regexp.MustCompile(`^(.+)[\.\s_-]+(\d{4})[\.\s_-]+(.*)$`)
	moviePatternSimple = regexp.MustCompile(`^(.+)[\.\s_-]+(\d{4})$`)

	// Country qualifier right after a series or movie title: "(US)" or ".US."
	countryPattern = regexp.MustCompile(`(?:\(([A-Z]{2})\)|[\.\s_-]+(US|UK|AU|CA|NZ))$`)

	separatorPattern = regexp.MustCompile(`[\.\s_-]+`)

	yearTokenPattern = regexp.MustCompile(`^(19|20)\d{2}$`)
)

type token struct {
	name    string
	pattern *regexp.Regexp
}

// Release property tables. Order matters where tokens overlap, the more
// specific entry comes first.
var (
	resolutionTokens = []token{
		{"2160p", regexp.MustCompile(`(?i)\b(2160p|4k|uhd)\b`)},
		{"1080p", regexp.MustCompile(`(?i)\b1080p\b`)},
		{"1080i", regexp.MustCompile(`(?i)\b1080i\b`)},
		{"720p", regexp.MustCompile(`(?i)\b720p\b`)},
		{"576p", regexp.MustCompile(`(?i)\b576p\b`)},
		{"480p", regexp.MustCompile(`(?i)\b480p\b`)},
	}

	sourceTokens = []token{
		{"Blu-ray", regexp.MustCompile(`(?i)\b(blu-?ray|bd-?rip|br-?rip|bd-?remux|remux)\b`)},
		{"Web", regexp.MustCompile(`(?i)\b(web-?dl|web-?rip|web)\b`)},
		{"HDTV", regexp.MustCompile(`(?i)\b(hdtv|pdtv|dsr)\b`)},
		{"DVD", regexp.MustCompile(`(?i)\b(dvd-?rip|dvd-?r|dvd)\b`)},
		{"Telesync", regexp.MustCompile(`(?i)\b(telesync|hdts|ts)\b`)},
		{"CAM", regexp.MustCompile(`(?i)\b(hdcam|cam-?rip|cam)\b`)},
		{"VHS", regexp.MustCompile(`(?i)\bvhs(-?rip)?\b`)},
	}

	videoCodecTokens = []token{
		{"H.265", regexp.MustCompile(`(?i)\b(x265|h\.?265|hevc)\b`)},
		{"H.264", regexp.MustCompile(`(?i)\b(x264|h\.?264|avc)\b`)},
		{"AV1", regexp.MustCompile(`(?i)\bav1\b`)},
		{"VP9", regexp.MustCompile(`(?i)\bvp9\b`)},
		{"Xvid", regexp.MustCompile(`(?i)\bxvid\b`)},
		{"DivX", regexp.MustCompile(`(?i)\bdivx\b`)},
		{"MPEG-2", regexp.MustCompile(`(?i)\bmpeg-?2\b`)},
	}

	audioCodecTokens = []token{
		{"Dolby Atmos", regexp.MustCompile(`(?i)\batmos\b`)},
		{"DTS-HD", regexp.MustCompile(`(?i)\bdts[\.\s-]?hd([\.\s-]?ma)?\b`)},
		{"Dolby TrueHD", regexp.MustCompile(`(?i)\btruehd\b`)},
		{"DTS", regexp.MustCompile(`(?i)\bdts\b`)},
		{"Dolby Digital Plus", regexp.MustCompile(`(?i)\b(ddp[\d\.]*|dd\+|e-?ac-?3)\b`)},
		{"Dolby Digital", regexp.MustCompile(`(?i)\b(dd[\d\.]+|ac-?3)\b`)},
		{"AAC", regexp.MustCompile(`(?i)\baac(2?\.?0)?\b`)},
		{"FLAC", regexp.MustCompile(`(?i)\bflac\b`)},
		{"MP3", regexp.MustCompile(`(?i)\bmp3\b`)},
		{"Opus", regexp.MustCompile(`(?i)\bopus\b`)},
	}

	streamingServiceTokens = []token{
		{"Amazon Prime", regexp.MustCompile(`(?i)\b(amzn|amazon)\b`)},
		{"Netflix", regexp.MustCompile(`(?i)\b(nf|netflix)\b`)},
		{"Disney+", regexp.MustCompile(`(?i)\b(dsnp|dsny)\b`)},
		{"HBO Max", regexp.MustCompile(`(?i)\bhmax\b`)},
		{"Apple TV+", regexp.MustCompile(`(?i)\batvp\b`)},
		{"Hulu", regexp.MustCompile(`(?i)\bhulu\b`)},
		{"Peacock", regexp.MustCompile(`(?i)\bpcok\b`)},
		{"Paramount+", regexp.MustCompile(`(?i)\bpmtp\b`)},
		{"BBC iPlayer", regexp.MustCompile(`(?i)\bip\b`)},
		{"Crunchyroll", regexp.MustCompile(`(?i)\bcr\b`)},
		{"Stan", regexp.MustCompile(`(?i)\bstan\b`)},
	}

	editionTokens = []token{
		{"Director's Cut", regexp.MustCompile(`(?i)\bdirector'?s[\.\s_-]?cut\b`)},
		{"Extended", regexp.MustCompile(`(?i)\bextended([\.\s_-]?(cut|edition))?\b`)},
		{"Theatrical", regexp.MustCompile(`(?i)\btheatrical([\.\s_-]?(cut|edition))?\b`)},
		{"Unrated", regexp.MustCompile(`(?i)\bunrated\b`)},
		{"Uncut", regexp.MustCompile(`(?i)\buncut\b`)},
		{"Remastered", regexp.MustCompile(`(?i)\bremastered\b`)},
		{"IMAX", regexp.MustCompile(`(?i)\bimax\b`)},
		{"Criterion", regexp.MustCompile(`(?i)\bcriterion\b`)},
		{"Special", regexp.MustCompile(`(?i)\bspecial[\.\s_-]?edition\b`)},
	}
)

// Parse extracts a Guess from a bare file or release name. The
// extension, when present, is stripped before parsing.
func Parse(name string) *Guess {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	g := &Guess{}

	if match := episodePatternSE.FindStringSubmatch(name); match != nil {
		g.Type = "episode"
		g.Series, g.Country = splitCountry(cleanTitle(match[1]))
		g.Season, _ = strconv.Atoi(match[2])
		first, _ := strconv.Atoi(match[3])
		g.Episodes = expandEpisodes(first, match[4])
		rest := parseReleaseInfo(match[5], g)
		g.Title = leadingTitle(rest)
		return g
	}

	if match := episodePatternX.FindStringSubmatch(name); match != nil {
		g.Type = "episode"
		g.Series, g.Country = splitCountry(cleanTitle(match[1]))
		g.Season, _ = strconv.Atoi(match[2])
		ep, _ := strconv.Atoi(match[3])
		g.Episodes = []int{ep}
		rest := parseReleaseInfo(match[4], g)
		g.Title = leadingTitle(rest)
		return g
	}

	if match := moviePatternParen.FindStringSubmatch(name); match != nil {
		g.Type = "movie"
		g.Year, _ = strconv.Atoi(match[2])
		parseReleaseInfo(match[3], g)
		g.Title, g.Country = splitCountry(movieTitle(match[1], g))
		return g
	}

	if match := moviePatternDot.FindStringSubmatch(name); match != nil {
		if year, _ := strconv.Atoi(match[2]); year >= 1900 && year <= 2100 {
			g.Type = "movie"
			g.Year = year
			parseReleaseInfo(match[3], g)
			g.Title, g.Country = splitCountry(movieTitle(match[1], g))
			return g
		}
	}

	if match := moviePatternSimple.FindStringSubmatch(name); match != nil {
		if year, _ := strconv.Atoi(match[2]); year >= 1900 && year <= 2100 {
			g.Type = "movie"
			g.Year = year
			g.Title, g.Country = splitCountry(movieTitle(match[1], g))
			return g
		}
	}

	// No structure recognized: everything before the first release
	// property is the movie title. Names made of nothing but release
	// properties end up with no title at all.
	g.Type = "movie"
	rest := parseReleaseInfo(name, g)
	g.Title = leadingTitle(rest)
	return g
}

// ParsePath parses the file name and falls back to the parent directory
// for a movie year the file name lacks, the common
// "Title (Year)/Title.1080p.mkv" layout.
func ParsePath(path string) *Guess {
	g := Parse(filepath.Base(path))
	if g.Type == "movie" && g.Year == 0 {
		parent := Parse(filepath.Base(filepath.Dir(path)))
		if parent.Type == "movie" && parent.Year != 0 {
			g.Year = parent.Year
			if parent.Title != "" {
				g.Title = parent.Title
			}
			if parent.Country != "" && g.Country == "" {
				g.Country = parent.Country
			}
		}
	}
	return g
}

func expandEpisodes(first int, extra string) []int {
	episodes := []int{first}
	last := first
	for _, m := range extraEpisodePattern.FindAllStringSubmatch(extra, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > last {
			last = n
		}
	}
	for ep := first + 1; ep <= last; ep++ {
		episodes = append(episodes, ep)
	}
	return episodes
}

func cleanTitle(title string) string {
	return strings.TrimSpace(separatorPattern.ReplaceAllString(title, " "))
}

// movieTitle cleans a raw title segment, peeling off an edition token
// that sits before the year ("Man.of.Steel.EXTENDED.2013").
func movieTitle(raw string, g *Guess) string {
	for _, t := range editionTokens {
		if loc := t.pattern.FindStringIndex(raw); loc != nil {
			if g.Edition == "" {
				g.Edition = t.name
			}
			raw = raw[:loc[0]] + raw[loc[1]:]
			break
		}
	}
	return cleanTitle(raw)
}

// splitCountry peels a trailing country qualifier off a title:
// "Shameless US" or "The Office (UK)". UK normalizes to GB.
func splitCountry(title string) (string, string) {
	match := countryPattern.FindStringSubmatch(title)
	if match == nil {
		return title, ""
	}
	country := match[1]
	if country == "" {
		country = match[2]
	}
	if country == "UK" {
		country = "GB"
	}
	return strings.TrimSpace(title[:len(title)-len(match[0])]), country
}

// parseReleaseInfo fills the release property fields from text and
// returns the text that precedes the first recognized property token,
// which for episodes is the episode title.
func parseReleaseInfo(text string, g *Guess) string {
	g.ReleaseGroup, text = extractReleaseGroup(text)

	g.Resolution = firstToken(resolutionTokens, text)
	g.Source = firstToken(sourceTokens, text)
	g.VideoCodec = firstToken(videoCodecTokens, text)
	g.AudioCodec = firstToken(audioCodecTokens, text)
	g.Edition = firstToken(editionTokens, text)
	// Streaming service tags only mean anything on web releases;
	// "ts" vs Telesync style collisions make them too noisy elsewhere.
	if g.Source == "" || g.Source == "Web" {
		g.StreamingService = firstToken(streamingServiceTokens, text)
	}

	return text
}

func firstToken(tokens []token, text string) string {
	for _, t := range tokens {
		if t.pattern.MatchString(text) {
			return t.name
		}
	}
	return ""
}

// extractReleaseGroup peels "-GROUP" (optionally "-GROUP[tag]") off the
// last dot-separated token. Hyphenated property tokens like WEB-DL or
// DTS-HD are left alone: only a tail that is not itself a release
// property counts as a group.
func extractReleaseGroup(text string) (string, string) {
	idx := strings.LastIndexAny(text, ". _")
	tail := text[idx+1:]
	if tail == "" || !strings.Contains(tail, "-") || isExactProperty(tail) {
		return "", text
	}
	cut := strings.LastIndex(tail, "-")
	group := tail[cut+1:]
	if bracket := strings.IndexByte(group, '['); bracket >= 0 {
		group = group[:bracket]
	}
	if group == "" || isExactProperty(group) {
		return "", text
	}
	return group, text[:len(text)-(len(tail)-cut)]
}

// isPropertyToken reports whether a release property pattern matches
// anywhere in s. Used on single separator-free words.
func isPropertyToken(s string) bool {
	for _, tokens := range [][]token{resolutionTokens, sourceTokens, videoCodecTokens, audioCodecTokens} {
		for _, t := range tokens {
			if t.pattern.MatchString(s) {
				return true
			}
		}
	}
	return yearTokenPattern.MatchString(s)
}

// isExactProperty reports whether s in its entirety is a release
// property token or a year.
func isExactProperty(s string) bool {
	for _, tokens := range [][]token{resolutionTokens, sourceTokens, videoCodecTokens, audioCodecTokens} {
		for _, t := range tokens {
			if loc := t.pattern.FindStringIndex(s); loc != nil && loc[0] == 0 && loc[1] == len(s) {
				return true
			}
		}
	}
	return yearTokenPattern.MatchString(s)
}

// leadingTitle returns the leading tokens of text that precede the
// first release property token, cleaned up. Empty when text starts
// with a property token.
func leadingTitle(text string) string {
	words := separatorPattern.Split(text, -1)
	var kept []string
	for _, w := range words {
		if w == "" {
			continue
		}
		if isPropertyToken(w) || isReleaseWord(w) {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

var releaseWordPattern = regexp.MustCompile(`(?i)^(proper|repack|internal|limited|read\.?nfo|dubbed|subbed|multi|hdr10\+?|hdr|dv|dovi|hlg|amzn|nf|dsnp|hmax|atvp|hulu|pcok|pmtp|extended|unrated|remastered|imax|uncut)$`)

func isReleaseWord(s string) bool {
	return releaseWordPattern.MatchString(s)
}
