package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/emotion-lens/internal/capture"
	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/emotion"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/model"
)

func init() {
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify text, an image or audio features",
	}

	text := &cobra.Command{
		Use:   "text [text]",
		Short: "Classify the emotion of text (reads stdin when no argument is given)",
		Run:   runAnalyzeText,
	}

	face := &cobra.Command{
		Use:   "face <image>",
		Short: "Detect faces and their emotions in an image",
		Args:  cobra.ExactArgs(1),
		Run:   runAnalyzeFace,
	}

	audio := &cobra.Command{
		Use:   "audio <csv>",
		Short: "Classify a CSV of audio features",
		Args:  cobra.ExactArgs(1),
		Run:   runAnalyzeAudio,
	}

	multimodal := &cobra.Command{
		Use:   "multimodal",
		Short: "Classify text together with a CSV of audio features",
		Run:   runAnalyzeMultimodal,
	}
	multimodal.Flags().String("text", "", "Text to classify (required)")
	multimodal.Flags().String("csv", "", "Audio feature CSV (required)")

	all := &cobra.Command{
		Use:   "all",
		Short: "Classify text and an image concurrently",
		Run:   runAnalyzeAll,
	}
	all.Flags().String("text", "", "Text to classify")
	all.Flags().String("image", "", "Image to classify")

	for _, c := range []*cobra.Command{text, face, all} {
		c.Flags().Bool("no-record", false, "Do not add results to the history")
	}

	analyzeCmd.AddCommand(text, face, audio, multimodal, all)
	RootCmd.AddCommand(analyzeCmd)
}

// describe renders a label for people, e.g. "😊 Senang (85.0%)".
func describe(label string, confidence float64) string {
	return fmt.Sprintf("%s %s (%s)", emotion.Emoji(label), emotion.Normalize(label), classifier.FormatConfidence(confidence))
}

func readTextArg(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(data)
}

// analyzeErr reports a classifier failure, hinting at the backend when it
// could not be reached.
func analyzeErr(msg string, err error) {
	if errors.Is(err, classifier.ErrUnavailable) {
		err = fmt.Errorf("%w (is the detection backend running? see `emotion-lens health`)", err)
	}
	exitErr(msg, err)
}

func classifyText(cmd *cobra.Command, e *env, set *classifier.Set, text string) (*classifier.TextResult, *model.EmotionRecord, error) {
	res, err := set.Text.AnalyzeText(ctx(cmd), text)
	if err != nil {
		return nil, nil, err
	}
	if noRecord, _ := cmd.Flags().GetBool("no-record"); noRecord {
		return res, nil, nil
	}
	rec := e.history.Append(ctx(cmd), history.NewRecord{
		Emotion:    res.Emotion,
		Confidence: classifier.FormatConfidence(res.Confidence),
		Source:     model.SourceText,
		InputText:  strings.TrimSpace(text),
	})
	return res, &rec, nil
}

func classifyFace(cmd *cobra.Command, e *env, set *classifier.Set, path string) (*classifier.FaceResult, *model.EmotionRecord, error) {
	cam := capture.Normalizing{Camera: capture.FileCamera{Path: path}, MaxDim: e.cfg.Capture.MaxDim}
	jpeg, err := cam.Capture(ctx(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", classifier.ErrInvalidInput, err)
	}
	res, err := set.Backend.DetectFace(ctx(cmd), jpeg)
	if err != nil {
		return nil, nil, err
	}
	face, ok := res.First()
	if !ok {
		return res, nil, nil
	}
	if noRecord, _ := cmd.Flags().GetBool("no-record"); noRecord {
		return res, nil, nil
	}
	rec := e.history.Append(ctx(cmd), history.NewRecord{
		Emotion:    face.Emotion,
		Confidence: classifier.FormatConfidence(face.Confidence),
		Source:     model.SourceFace,
	})
	return res, &rec, nil
}

func runAnalyzeText(cmd *cobra.Command, args []string) {
	text := readTextArg(args)

	e := openEnv(cmd)
	defer e.Close()
	set := newClassifiers(e.cfg)

	res, rec, err := classifyText(cmd, e, set, text)
	if err != nil {
		analyzeErr("analyze text", err)
	}

	if textFormat() {
		fmt.Println(describe(res.Emotion, res.Confidence))
		return
	}
	printJSON(map[string]any{"result": res, "record": rec})
}

func runAnalyzeFace(cmd *cobra.Command, args []string) {
	e := openEnv(cmd)
	defer e.Close()
	set := newClassifiers(e.cfg)

	res, rec, err := classifyFace(cmd, e, set, args[0])
	if err != nil {
		analyzeErr("analyze face", err)
	}

	if textFormat() {
		if len(res.Faces) == 0 {
			fmt.Println("no face detected")
			return
		}
		for i, f := range res.Faces {
			fmt.Printf("face %d: %s\n", i+1, describe(f.Emotion, f.Confidence))
		}
		return
	}
	printJSON(map[string]any{"faces": res.Faces, "record": rec})
}

func readCSV(path string) (string, []byte) {
	data, err := os.ReadFile(path)
	if err != nil {
		exitErr("read csv", err)
	}
	return filepath.Base(path), data
}

func printTextResult(res *classifier.TextResult) {
	if textFormat() {
		fmt.Println(describe(res.Emotion, res.Confidence))
		return
	}
	printJSON(res)
}

func runAnalyzeAudio(cmd *cobra.Command, args []string) {
	name, data := readCSV(args[0])
	cfg := loadConfig()
	set := newClassifiers(cfg)

	res, err := set.Backend.AnalyzeAudio(ctx(cmd), name, data)
	if err != nil {
		analyzeErr("analyze audio", err)
	}
	printTextResult(res)
}

func runAnalyzeMultimodal(cmd *cobra.Command, args []string) {
	text, _ := cmd.Flags().GetString("text")
	csvPath, _ := cmd.Flags().GetString("csv")
	if text == "" || csvPath == "" {
		exitErr("analyze multimodal", fmt.Errorf("--text and --csv are required"))
	}
	name, data := readCSV(csvPath)
	cfg := loadConfig()
	set := newClassifiers(cfg)

	res, err := set.Backend.AnalyzeMultimodal(ctx(cmd), text, name, data)
	if err != nil {
		analyzeErr("analyze multimodal", err)
	}
	printTextResult(res)
}

type analyzeAllResult struct {
	Text      *classifier.TextResult `json:"text,omitempty"`
	Face      *classifier.FaceResult `json:"face,omitempty"`
	TextError string                 `json:"textError,omitempty"`
	FaceError string                 `json:"faceError,omitempty"`
	Records   []model.EmotionRecord  `json:"records"`
}

func runAnalyzeAll(cmd *cobra.Command, args []string) {
	text, _ := cmd.Flags().GetString("text")
	image, _ := cmd.Flags().GetString("image")
	if text == "" && image == "" {
		exitErr("analyze all", fmt.Errorf("at least one of --text or --image is required"))
	}

	e := openEnv(cmd)
	defer e.Close()
	set := newClassifiers(e.cfg)

	var (
		out              analyzeAllResult
		textRec, faceRec *model.EmotionRecord
	)
	var g errgroup.Group
	if text != "" {
		g.Go(func() error {
			res, rec, err := classifyText(cmd, e, set, text)
			if err != nil {
				out.TextError = err.Error()
				return err
			}
			out.Text, textRec = res, rec
			return nil
		})
	}
	if image != "" {
		g.Go(func() error {
			res, rec, err := classifyFace(cmd, e, set, image)
			if err != nil {
				out.FaceError = err.Error()
				return err
			}
			out.Face, faceRec = res, rec
			return nil
		})
	}
	err := g.Wait()

	out.Records = []model.EmotionRecord{}
	for _, r := range []*model.EmotionRecord{textRec, faceRec} {
		if r != nil {
			out.Records = append(out.Records, *r)
		}
	}
	printJSON(out)
	if err != nil && out.Text == nil && out.Face == nil {
		analyzeErr("analyze all", err)
	}
}
