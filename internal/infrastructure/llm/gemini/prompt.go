package gemini

import (
	"fmt"

	"github.com/mkotova/lifeline/internal/core/domain"
)

// palmReadingPrompt instructs the model to answer with the fixed seven-section
// JSON shape. The shape is instructed, not enforced; the pipeline's parser
// tolerates any deviation.
func palmReadingPrompt(side domain.HandSide, dominant bool) string {
	dominance := "non-dominant hand"
	if dominant {
		dominance = "dominant hand"
	}
	return fmt.Sprintf(`You are an expert palm reader with years of experience in palmistry and hand analysis.

Analyze this %s hand palm image (%s) and provide a comprehensive, insightful palm reading.

Please provide your analysis in the following JSON format with these specific sections:

{
  "sections": [
    {
      "id": "life_line",
      "title": "Life Line",
      "content": "Detailed analysis of the life line, including vitality, energy levels, and life path"
    },
    {
      "id": "heart_line",
      "title": "Heart Line",
      "content": "Analysis of emotional nature, relationships, and heart matters"
    },
    {
      "id": "head_line",
      "title": "Head Line",
      "content": "Insights about thinking patterns, intelligence, and mental approach"
    },
    {
      "id": "fate_line",
      "title": "Fate Line",
      "content": "Career path, life direction, and destiny insights"
    },
    {
      "id": "mounts",
      "title": "Palm Mounts",
      "content": "Analysis of the various mounts and what they reveal about personality"
    },
    {
      "id": "fingers",
      "title": "Fingers & Shape",
      "content": "Finger length, shape analysis and overall hand type"
    },
    {
      "id": "overall",
      "title": "Overall Reading",
      "content": "Summary and key insights from the complete palm analysis"
    }
  ]
}

Make the reading insightful, positive, and personalized based on what you observe in the palm. Focus on the major lines, mounts, and overall hand characteristics visible in the image.`, side, dominance)
}

const quickInsightsPrompt = "Briefly describe what you see in this palm and provide 2-3 quick palmistry insights in a friendly, conversational way. Keep it under 100 words."

func compareHandsPrompt(left, right domain.Reading) string {
	return fmt.Sprintf(`You are an expert palm reader. Two readings were taken for the same person, one per hand.

Left hand reading:
%s

Right hand reading:
%s

Compare the two hands: highlight where the readings agree, where they diverge, and what the differences between the passive and active hand traditionally mean in palmistry. Answer in flowing prose, no JSON.`, left.RenderSummary(), right.RenderSummary())
}
