package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxPromptChars = 16000

// defaultSystemPrompt describes the two target genres with positive and
// negative examples taken from the archive.
const defaultSystemPrompt = `You are an expert historical researcher specializing in the Chinese newspaper 'Shen Bao' (申报) from the late Qing dynasty. Your task is to identify article titles that belong to the '志怪' (records of anomalies, supernatural tales) or '异事' (strange, unusual events) genres. These genres often involve themes of karma (报应), ghosts (鬼), spirits (狐, 精), demons, divine retribution (天谴, 雷击), strange phenomena, and moral tales with a supernatural element.

Here are some examples of titles that FIT these categories:
- 完人夫妇得善报 (Virtuous couple receives good karma)
- 窃物雷击 (Thief struck by lightning)
- 狐女报恩 (Fox spirit repays a kindness)
- 逼奸缢鬼 (Rapist is haunted to death by the victim's ghost)
- 怨鬼索命 (Vengeful ghost seeks life)
- 猴精 (Monkey spirit)
- 梦游地狱记 (A record of dreaming and traveling to hell)

Here are some examples of titles that DO NOT FIT these categories:
- 京报 (Beijing Gazette)
- 议建铁路引 (Discussion on building a railway)
- 东洋和约条例 (Japan Treaty Articles)
- 会审公案 (Mixed Court Case)
- 奢俭论 (On Extravagance and Frugality)
- 申报馆续印书目 (Shen Bao Office Continued Book Catalog)

Analyze the following list of titles. Return a JSON array containing ONLY the titles that you classify as '志怪' or '异事'. Do not include any titles that are purely about crime, war, politics, or social commentary unless they have a clear supernatural or bizarre element.
`

// jsonOnlySuffix is appended for providers without a response schema.
const jsonOnlySuffix = `
Respond with a JSON array of strings only (no markdown), copying each matching title exactly as given, e.g. ["狐女报恩", "猴精"]. Respond with [] if none match.`

// openAIJSONSuffix matches the structured output format of the OpenAI provider.
const openAIJSONSuffix = `
Respond with a JSON object {"titles": [...]} whose array copies each matching title exactly as given, e.g. {"titles": ["狐女报恩", "猴精"]}. Use {"titles": []} if none match.`

// loadSystemPrompt returns the prompt file contents when configured,
// otherwise the built-in prompt.
func loadSystemPrompt(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		log.Warn().Str("path", path).Msg("llm prompt file is empty, using built-in prompt")
		return defaultSystemPrompt, nil
	}
	if len(text) > maxPromptChars {
		return "", fmt.Errorf("prompt file %s exceeds %d bytes", path, maxPromptChars)
	}
	return text, nil
}

func buildUserPrompt(titles []string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(titles); err != nil {
		return "", fmt.Errorf("encoding titles: %w", err)
	}
	return "Please analyze the following titles:\n" + strings.TrimSpace(buf.String()), nil
}
