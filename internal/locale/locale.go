package locale

import (
	"fmt"
	"strings"
)

// Catalog holds the user-visible texts relayed to chat channels.
type Catalog struct {
	Name string

	solvedLine        string
	unknownRating     string
	accountRemoved    string
	apiFailure        string
	processingFailure string
	interrupted       string
}

var catalogs = map[string]Catalog{
	"zh": {
		Name:              "zh",
		solvedLine:        "%s 通过了 %s。",
		unknownRating:     "未知rating",
		accountRemoved:    "CodeForces API请求失败：用户 %s 不存在！已将其从数据库中移除。",
		apiFailure:        "CodeForces API请求失败 (用户: %s): %s",
		processingFailure: "处理用户 %s 时发生错误: %s",
		interrupted:       "操作被中断",
	},
	"en": {
		Name:              "en",
		solvedLine:        "%s solved %s.",
		unknownRating:     "unknown rating",
		accountRemoved:    "Codeforces API request failed: user %s does not exist! It has been removed from tracking.",
		apiFailure:        "Codeforces API request failed (user: %s): %s",
		processingFailure: "Error while processing user %s: %s",
		interrupted:       "operation interrupted",
	},
}

// Lookup returns the catalog for lang, falling back to zh.
func Lookup(lang string) Catalog {
	if c, ok := catalogs[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return c
	}
	return catalogs["zh"]
}

func Supported(lang string) bool {
	_, ok := catalogs[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}

func (c Catalog) Solved(handle, problem string) string {
	return fmt.Sprintf(c.solvedLine, handle, problem)
}

// ProblemDescriptor renders "{problemID} ({rating})", e.g. "1500A (1500)".
func (c Catalog) ProblemDescriptor(problemID string, rating *int) string {
	if rating == nil {
		return fmt.Sprintf("%s (%s)", problemID, c.unknownRating)
	}
	return fmt.Sprintf("%s (%d)", problemID, *rating)
}

func (c Catalog) AccountRemoved(account string) string {
	return fmt.Sprintf(c.accountRemoved, account)
}

func (c Catalog) APIFailure(account, reason string) string {
	return fmt.Sprintf(c.apiFailure, account, reason)
}

func (c Catalog) ProcessingFailure(account, reason string) string {
	return fmt.Sprintf(c.processingFailure, account, reason)
}

func (c Catalog) Interrupted() string {
	return c.interrupted
}
