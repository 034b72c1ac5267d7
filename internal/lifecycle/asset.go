package lifecycle

import "strings"

// maxDepth bounds recursion into nested result payloads.
const maxDepth = 6

// directKeys are probed first, in order, at every level.
var directKeys = []string{"video_url", "videoUrl", "url", "download_url", "downloadUrl"}

// containerKeys are the wrapper objects providers nest results under.
var containerKeys = []string{"response", "output", "data"}

// arrayKeys hold result collections whose first element is the video.
var arrayKeys = []string{"videos", "outputs"}

// ExtractVideoURL searches a schema-less provider result payload for a
// playable video URL. Rules run in priority order and the first accepted
// candidate wins. Absence is a normal outcome while a job is still rendering,
// so the miss case is a plain false, never an error.
func ExtractVideoURL(payload map[string]any) (string, bool) {
	return extract(payload, 0)
}

func extract(node map[string]any, depth int) (string, bool) {
	if node == nil || depth > maxDepth {
		return "", false
	}
	for _, key := range directKeys {
		if url, ok := candidate(node[key]); ok {
			return url, true
		}
	}
	if video, ok := node["video"].(map[string]any); ok {
		if url, ok := candidate(video["url"]); ok {
			return url, true
		}
	}
	for _, key := range arrayKeys {
		arr, ok := node[key].([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		if url, ok := fromElement(arr[0], depth+1); ok {
			return url, true
		}
	}
	if arr, ok := node["download_urls"].([]any); ok {
		for _, el := range arr {
			entry, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if format, _ := entry["format"].(string); format != "mp4" {
				continue
			}
			if url, ok := candidate(entry["url"]); ok {
				return url, true
			}
		}
	}
	for _, key := range containerKeys {
		if child, ok := node[key].(map[string]any); ok {
			if url, ok := extract(child, depth+1); ok {
				return url, true
			}
		}
	}
	return "", false
}

func fromElement(el any, depth int) (string, bool) {
	switch v := el.(type) {
	case string:
		return candidate(v)
	case map[string]any:
		return extract(v, depth)
	}
	return "", false
}

func candidate(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "http") {
		return "", false
	}
	return s, true
}

// ExtractErrorText pulls a human-readable failure message out of a provider
// payload. Providers surface errors under "error", "detail" (a string or a
// validation list of {msg} objects), or inside a data envelope.
func ExtractErrorText(payload map[string]any) (string, bool) {
	if payload == nil {
		return "", false
	}
	if s, ok := payload["error"].(string); ok && s != "" {
		return s, true
	}
	if s, ok := payload["detail"].(string); ok && s != "" {
		return s, true
	}
	if list, ok := payload["detail"].([]any); ok && len(list) > 0 {
		if entry, ok := list[0].(map[string]any); ok {
			if msg, ok := entry["msg"].(string); ok && msg != "" {
				return msg, true
			}
		}
	}
	if data, ok := payload["data"].(map[string]any); ok {
		if s, ok := data["error"].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
