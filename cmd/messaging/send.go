package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/event-messaging/internal/model"
)

func sendCmd() *cobra.Command {
	var (
		to       string
		template string
		language string
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one template message and print the provider message id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			msg := model.TemplateMessage{To: to, Name: template, Language: language}
			if len(params) > 0 {
				msg.Components = []model.TemplateComponent{model.TextParams(model.ComponentBody, params...)}
			}

			res, err := newDispatcher(cfg, logger).Send(cmd.Context(), msg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "recipient phone number")
	cmd.Flags().StringVarP(&template, "template", "t", "", "approved template name")
	cmd.Flags().StringVarP(&language, "language", "l", "", "template language code (default from TEMPLATE_LANGUAGE)")
	cmd.Flags().StringSliceVarP(&params, "param", "p", nil, "body parameter, repeatable and in order")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}
