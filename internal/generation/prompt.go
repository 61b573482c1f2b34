package generation

import (
	"fmt"
	"strings"

	"github.com/phrazzld/manga-api/internal/domain"
)

// SceneBreak separates scenes in plain-text splitter answers.
const SceneBreak = "---SCENE_BREAK---"

var styleLabels = map[string]string{
	"art_style":        "Art style",
	"mood":             "Mood",
	"color_palette":    "Color palette",
	"character_style":  "Character style",
	"line_style":       "Line style",
	"composition":      "Composition",
	"additional_notes": "Additional notes",
}

// BuildSplitPrompt builds the instruction used to split story into n scenes.
func BuildSplitPrompt(story string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following story and split it into exactly %d distinct scenes for a manga adaptation.\n\n", n)
	b.WriteString("Story:\n")
	b.WriteString(strings.TrimSpace(story))
	b.WriteString("\n\nRequirements:\n")
	b.WriteString("1. Each scene is a single moment or action drawable as one manga panel\n")
	b.WriteString("2. Scenes flow in story order and keep continuity\n")
	b.WriteString("3. Describe character positions and expressions, setting, key props and mood\n")
	b.WriteString("4. Each description is detailed enough for image generation\n")
	return b.String()
}

// BuildPanelPrompt builds the drawing prompt for one scene. The style bag is
// rendered in a fixed key order so equal inputs give equal prompts.
func BuildPanelPrompt(scene string, style domain.StyleParameters, isFirst bool) (string, error) {
	scene = strings.TrimSpace(scene)
	if scene == "" {
		return "", ErrEmptyScene
	}

	var b strings.Builder
	b.WriteString("Create a manga panel for the following scene:\n\n")
	b.WriteString(scene)
	b.WriteString("\n\nStyle requirements:\n")
	b.WriteString("- Manga/anime art style\n")
	b.WriteString("- Clear composition suitable for a comic panel\n")
	b.WriteString("- Expressive characters with detailed faces\n")
	b.WriteString("- Dynamic visual storytelling")
	if isFirst {
		b.WriteString("\n- This is the opening panel, make it engaging and set the scene")
	} else {
		b.WriteString("\n- Keep characters and setting consistent with the previous panels")
	}
	writeStyle(&b, style)
	return b.String(), nil
}

// BuildRegenerationPrompt builds the prompt for redrawing a panel. It layers
// the original scene, a continuity instruction, the requested change and
// the task's style. isFirst marks the task's opening panel.
func BuildRegenerationPrompt(scene, modification string, style domain.StyleParameters, isFirst bool) (string, error) {
	scene = strings.TrimSpace(scene)
	if scene == "" {
		return "", ErrEmptyScene
	}
	modification = strings.TrimSpace(modification)
	if modification == "" {
		return "", domain.ErrEmptyModification
	}

	var b strings.Builder
	b.WriteString("Regenerate this manga panel with the following modifications.\n\n")
	b.WriteString("Original scene: ")
	b.WriteString(scene)
	b.WriteString("\n\nModification request: ")
	b.WriteString(modification)
	b.WriteString("\n\nMaintain the core story elements and visual continuity with the original panel ")
	b.WriteString("while incorporating the requested changes. If a reference image is attached, ")
	b.WriteString("match its characters, composition and palette unless the request says otherwise.")
	if isFirst {
		b.WriteString("\n- This is the opening panel, make it engaging and set the scene")
	}
	writeStyle(&b, style)
	return b.String(), nil
}

func writeStyle(b *strings.Builder, style domain.StyleParameters) {
	for _, key := range domain.StyleKeys {
		v, ok := style.Get(key)
		if !ok {
			continue
		}
		fmt.Fprintf(b, "\n- %s: %s", styleLabels[key], v)
	}
}

// CleanScenes trims scenes, drops blank ones and truncates to n. It never pads.
func CleanScenes(scenes []string, n int) []string {
	out := make([]string, 0, len(scenes))
	for _, s := range scenes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}
