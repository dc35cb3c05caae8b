package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"
	"tunnel-keeper/internal/utils"
	"tunnel-keeper/services"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [服务名称]",
	Short: "列出宿主机上的docker服务",
	Long:  "列出宿主机上的docker服务及其对外端口，如果指定了名称，则只显示该服务",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return listServices(cmd.Context(), name)
	},
}

/**
 * List host services
 * @param {context.Context} ctx - Context for request cancellation and timeout
 * @param {string} name - only show this service when not empty
 * @returns {error} Returns error if listing fails, nil on success
 * @description
 * - Asks the running server first
 * - Falls back to calling docker directly when the server is unreachable
 */
func listServices(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svcs, err := fetchServices()
	if err != nil {
		logger.Debugf("List services via server failed, calling docker directly: %v", err)
		svcs = services.NewDockerServiceLister(logger.Named("docker")).List(ctx)
	}

	var dataList []*orderedmap.OrderedMap
	for _, svc := range svcs {
		if name != "" && svc.Name != name {
			continue
		}
		row := Service_Columns{
			Name:   svc.Name,
			Image:  svc.Image,
			Status: svc.Status,
			Ports:  joinPorts(svc.Ports),
		}
		recordMap, _ := utils.StructToOrderedMap(row)
		dataList = append(dataList, recordMap)
	}
	if len(dataList) == 0 {
		if name != "" {
			fmt.Printf("No service named %s\n", name)
		} else {
			fmt.Println("No docker services found")
		}
		return nil
	}
	utils.PrintFormat(dataList)
	return nil
}

/**
 *	Fields displayed in list format
 */
type Service_Columns struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
	Ports  string `json:"ports"`
}

func fetchServices() ([]models.HostService, error) {
	client := rpc.NewHTTPClient(nil)
	defer client.Close()

	resp, err := client.Get("/api/services", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	var svcs []models.HostService
	if err := resp.Decode(&svcs); err != nil {
		return nil, err
	}
	return svcs, nil
}

func joinPorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

func init() {
	serviceCmd.AddCommand(listCmd)
}
