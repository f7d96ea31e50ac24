package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// defaultNoise matches whole lines of portal chrome: navigation labels,
// copyright and algorithm-disclosure boilerplate, pagination controls. Most
// entries target Korean news portals.
var defaultNoise = []string{
	`^닫기$`, `^더보기$`, `^새로보기$`, `^로그인$`, `^검색$`, `^맨위로$`, `^예\s*아니오$`,
	`^MY$`, `^NAVER$`, `^본문 바로가기$`, `^전체서비스`, `^서비스안내`, `^오류신고`, `^고객센터`,
	`(?i)알고리즘\s*(자세히|안내|더)\s*보기`, `알고리즘\s*안내`, `^AiRS 추천으로`,
	`^각 헤드라인의 기사와 배열`, `^기사묶음의 대표 기사`, `^기사 수량이 표기된`,
	`기사묶음과 기사묶음 타이틀도`, `^개인화를 반영해`, `^구독 언론사 중심으로`,
	`본문 듣기를.*(종료|시작)`, `이 기사를.*(추천|공유)`, `추천을.*(취소|했습니다)`,
	`^이 콘텐츠의 저작권은`, `^저작권법 등에 따라`, `청소년\s*보호\s*책임자`, `기사배열\s*책임자`,
	`댓글\s*추모\s*기능\s*적용`, `각 언론사의 가장 많이 본 기사`, `^언론사별 가장 많이 본 뉴스`,
	`^오후\s*\d+시.*집계한 결과`, `^_재생하기_$`, `^_재생시간_`, `^_동영상뉴스_`, `^_공지_`,
	`^\d+\s*개의 관련뉴스 더보기$`, `^헤드라인\s*(뉴스\s*)?더보기$`, `^기사\s*더보기$`, `^연재보기`,
	`^뉴스\s*기사와\s*댓글로`, `24시간\s*센터로\s*접수`, `네이버\s*메인에서\s*바로\s*보는`,
	`네이버\s*AI\s*뉴스\s*알고리즘`, `^고침 기사 모음$`, `^정정.*보도.*기사.*모음$`, `^불공정.*선거.*보도`,
	`^엔터\s*스포츠\s*날씨`, `^뉴스스탠드$`, `^라이브러리$`, `^전체 언론사$`, `^구독$`,
	`(?i)^(skip to (main )?content|back to top|read more|load more|sign in|log in|subscribe)$`,
	`(?i)^all rights reserved\.?$`, `(?i)^copyright ©`,
	`^\*\s*$`, `^---$`,
}

// Lines made only of bullets or rule characters carry no content.
var (
	bareBullet = regexp.MustCompile(`^[*\-•]\s*$`)
	ruleLine   = regexp.MustCompile(`^[\s|*_#\-=]+$`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// NoiseFilter drops boilerplate lines from extracted text.
type NoiseFilter struct {
	patterns []*regexp.Regexp
}

// NewNoiseFilter compiles patterns into a filter.
func NewNoiseFilter(patterns []string) (*NoiseFilter, error) {
	f := &NoiseFilter{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling noise pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// DefaultNoiseFilter returns the built-in filter.
func DefaultNoiseFilter() *NoiseFilter {
	f, err := NewNoiseFilter(defaultNoise)
	if err != nil {
		panic(err)
	}
	return f
}

// noiseFile is the YAML layout accepted by LoadNoiseFile:
//
//	replace: false        # true drops the built-in patterns
//	patterns:
//	  - '^Advertisement$'
type noiseFile struct {
	Replace  bool     `yaml:"replace"`
	Patterns []string `yaml:"patterns"`
}

// LoadNoiseFile builds a filter from a YAML pattern file. Unless the file sets
// replace: true its patterns extend the defaults.
func LoadNoiseFile(path string) (*NoiseFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading noise file: %w", err)
	}
	var nf noiseFile
	if err := yaml.Unmarshal(data, &nf); err != nil {
		return nil, fmt.Errorf("parsing noise file %s: %w", path, err)
	}

	patterns := nf.Patterns
	if !nf.Replace {
		patterns = append(append([]string{}, defaultNoise...), nf.Patterns...)
	}
	return NewNoiseFilter(patterns)
}

// Len returns the number of patterns.
func (f *NoiseFilter) Len() int { return len(f.patterns) }

func (f *NoiseFilter) matches(line string) bool {
	for _, re := range f.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Clean trims every line and drops empty, single-character, bullet-only,
// rule-only and noise lines.
func (f *NoiseFilter) Clean(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if utf8.RuneCountInString(line) < 2 {
			continue
		}
		if bareBullet.MatchString(line) || ruleLine.MatchString(line) {
			continue
		}
		if f != nil && f.matches(line) {
			continue
		}
		kept = append(kept, line)
	}
	out := blankRuns.ReplaceAllString(strings.Join(kept, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
