package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: turn produced an empty reply", contractx.ErrValidation)
	}
	return GraphOutput{Reply: reply, State: in.Session}, nil
}
