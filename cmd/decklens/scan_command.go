package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"decklens/internal/api"
	"decklens/internal/services"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var variantPaths []string
	var class string
	var width, height int

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Recognize and resolve the card list in an image",
		Long: `Run recognition over the image and any preprocessed variants, then resolve
every parsed line against the catalog. Repeating a scan of the same image
under the same configuration reuses the stored result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildScanRequest(args[0], variantPaths, class, width, height)
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(svc *api.Service) error {
				submission, handle, err := svc.SubmitJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				view, waitErr := svc.WaitJob(cmd.Context(), handle)
				if waitErr != nil && !errors.Is(waitErr, services.ErrStillProcessing) {
					return waitErr
				}
				if err := ctx.output(cmd, view, func(out io.Writer) {
					renderJobView(out, view, submission.Role)
				}); err != nil {
					return err
				}
				if waitErr != nil {
					return waitErr
				}
				if view.State == "failed" {
					return fmt.Errorf("scan failed (%s): %s", view.Code, view.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&variantPaths, "variant", nil, "Preprocessed rendition of the image (repeatable)")
	cmd.Flags().StringVar(&class, "class", "", "Resolution class override (sd, 720p, 1080p, 1440p)")
	cmd.Flags().IntVar(&width, "width", 0, "Image width in pixels when the header cannot be read")
	cmd.Flags().IntVar(&height, "height", 0, "Image height in pixels when the header cannot be read")
	return cmd
}

func buildScanRequest(imagePath string, variantPaths []string, class string, width, height int) (api.ScanRequest, error) {
	image, err := readInput(imagePath)
	if err != nil {
		return api.ScanRequest{}, err
	}
	req := api.ScanRequest{
		Image:  image,
		Width:  width,
		Height: height,
		Class:  strings.TrimSpace(class),
	}
	for _, path := range variantPaths {
		data, err := readInput(path)
		if err != nil {
			return api.ScanRequest{}, err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		req.Variants = append(req.Variants, api.Variant{Name: name, Data: data})
	}
	return req, nil
}

func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("read image %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %q is empty", path)
	}
	return data, nil
}
