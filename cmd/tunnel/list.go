package tunnel

import (
	"fmt"
	"time"

	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var (
	listName string
	listPort int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tunnels",
	RunE: func(cmd *cobra.Command, args []string) error {
		var tunnels []models.TunnelView
		if err := getJSON("/api/tunnels", &tunnels); err != nil {
			return err
		}
		return listTunnels(tunnels)
	},
}

/**
 * List tunnel information with filtering
 * @param {[]models.TunnelView} tunnels - tunnels returned by the server
 * @returns {error} always nil
 * @description
 * - Filters by service name and/or port if specified
 * - Uses utils.PrintFormat for formatted output
 */
func listTunnels(tunnels []models.TunnelView) error {
	var filtered []models.TunnelView
	for _, t := range tunnels {
		if listName != "" && t.ServiceName != listName {
			continue
		}
		if listPort != 0 && t.Port != listPort {
			continue
		}
		filtered = append(filtered, t)
	}

	if len(filtered) == 0 {
		if listName != "" || listPort != 0 {
			fmt.Println("No matching tunnels found")
		} else {
			fmt.Println("No active tunnels")
		}
		return nil
	}
	utils.PrintFormat(tunnelRows(filtered))
	return nil
}

/**
 *	Fields displayed in list format
 */
type Tunnel_Columns struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	State     string `json:"state"`
	Port      int    `json:"port"`
	URL       string `json:"url"`
	Running   string `json:"running"`
	Remaining string `json:"remaining"`
}

func tunnelRows(tunnels []models.TunnelView) []*orderedmap.OrderedMap {
	var dataList []*orderedmap.OrderedMap
	for _, t := range tunnels {
		row := Tunnel_Columns{
			Name:  t.ServiceName,
			Type:  string(t.TunnelType),
			State: string(t.State),
			Port:  t.Port,
		}
		if t.URL != nil {
			row.URL = *t.URL
		}
		row.Running = "N"
		if t.IsRunning {
			row.Running = "Y"
		}
		row.Remaining = formatRemaining(t.TimeRemainingSeconds)
		recordMap, _ := utils.StructToOrderedMap(row)
		dataList = append(dataList, recordMap)
	}
	return dataList
}

// formatRemaining 持久隧道没有有效期，显示为"-"
func formatRemaining(sec *float64) string {
	if sec == nil {
		return ""
	}
	return (time.Duration(*sec) * time.Second).Truncate(time.Second).String()
}

func init() {
	listCmd.Flags().SortFlags = false
	listCmd.Flags().StringVarP(&listName, "name", "n", "", "Service name")
	listCmd.Flags().IntVarP(&listPort, "port", "p", 0, "Port number")
	tunnelCmd.AddCommand(listCmd)
}
